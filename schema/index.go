package schema

import (
	"sort"

	"github.com/ejacobg/graphdriver/graph"
)

type nameSet map[string]struct{}

func (s nameSet) add(name string) { s[name] = struct{}{} }

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// index is the reverse index of a single database.
type index struct {
	graphs map[string]*graph.Graph

	// definition name -> graphs using the definition.
	defs map[string]nameSet

	// collection name -> graphs using the collection in any role.
	collections map[string]nameSet
}

func newIndex() *index {
	return &index{
		graphs:      make(map[string]*graph.Graph),
		defs:        make(map[string]nameSet),
		collections: make(map[string]nameSet),
	}
}

func buildIndex(graphs []*graph.Graph) *index {
	idx := newIndex()
	for _, g := range graphs {
		idx.put(g)
	}
	return idx
}

// put adds or replaces a graph view.
func (idx *index) put(g *graph.Graph) {
	idx.remove(g.Name)

	g = g.Clone()
	idx.graphs[g.Name] = g
	for _, def := range g.EdgeDefinitions {
		link(idx.defs, def.Collection, g.Name)
	}
	for _, col := range g.Collections() {
		link(idx.collections, col, g.Name)
	}
}

// remove drops a graph view and all of its reverse entries.
func (idx *index) remove(name string) {
	old, ok := idx.graphs[name]
	if !ok {
		return
	}
	delete(idx.graphs, name)
	for _, def := range old.EdgeDefinitions {
		unlink(idx.defs, def.Collection, name)
	}
	for _, col := range old.Collections() {
		unlink(idx.collections, col, name)
	}
}

// definitionUsers returns the graphs using the named edge definition.
func (idx *index) definitionUsers(name string) []string {
	return idx.defs[name].sorted()
}

// collectionUsers returns the graphs other than exclude that use the
// collection.
func (idx *index) collectionUsers(collection, exclude string) []string {
	var out []string
	for _, name := range idx.collections[collection].sorted() {
		if name != exclude {
			out = append(out, name)
		}
	}
	return out
}

func (idx *index) snapshot() Snapshot {
	snap := Snapshot{
		Graphs:      make([]string, 0, len(idx.graphs)),
		Definitions: make(map[string][]string, len(idx.defs)),
		Collections: make(map[string][]string, len(idx.collections)),
	}
	for name := range idx.graphs {
		snap.Graphs = append(snap.Graphs, name)
	}
	sort.Strings(snap.Graphs)
	for name, users := range idx.defs {
		snap.Definitions[name] = users.sorted()
	}
	for name, users := range idx.collections {
		snap.Collections[name] = users.sorted()
	}
	return snap
}

func link(m map[string]nameSet, key, graphName string) {
	set := m[key]
	if set == nil {
		set = make(nameSet)
		m[key] = set
	}
	set.add(graphName)
}

func unlink(m map[string]nameSet, key, graphName string) {
	set := m[key]
	delete(set, graphName)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Snapshot is a point-in-time copy of the reverse index of a database.
// Two snapshots describing the same server state compare equal.
type Snapshot struct {
	Graphs []string

	// Definitions maps edge definition names to the graphs using them.
	Definitions map[string][]string

	// Collections maps collection names to the graphs using them.
	Collections map[string][]string

	// Stale is set when the index could not be reconciled with the server
	// after a failed call.
	Stale bool
}
