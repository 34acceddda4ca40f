package graph

import "sort"

// EdgeDefinition describes an edge collection and the vertex collections its
// edges may originate from and terminate at. The definition is named after
// its edge collection; the same definition may be shared by several graphs.
type EdgeDefinition struct {
	// The edge collection name. Doubles as the definition name.
	Collection string `json:"collection" msgpack:"collection"`

	// Vertex collections edges may originate from.
	From []string `json:"from" msgpack:"from"`

	// Vertex collections edges may terminate at.
	To []string `json:"to" msgpack:"to"`
}

// VertexCollections returns the sorted union of the From and To sets.
func (d EdgeDefinition) VertexCollections() []string {
	return sortedSet(d.From, d.To)
}

// Equal reports whether two definitions describe the same collections,
// ignoring the order of the From and To sets.
func (d EdgeDefinition) Equal(other EdgeDefinition) bool {
	return d.Collection == other.Collection &&
		equalSets(d.From, other.From) &&
		equalSets(d.To, other.To)
}

// Graph is a named set of edge definitions plus orphan vertex collections
// living in a database.
type Graph struct {
	Database          string           `json:"database" msgpack:"database"`
	Name              string           `json:"name" msgpack:"name"`
	EdgeDefinitions   []EdgeDefinition `json:"edgeDefinitions" msgpack:"edgeDefinitions"`
	OrphanCollections []string         `json:"orphanCollections" msgpack:"orphanCollections"`

	// Revision of the graph definition as reported by the server.
	Revision string `json:"rev,omitempty" msgpack:"rev,omitempty"`
}

// EdgeDefinition looks up a definition by name.
func (g *Graph) EdgeDefinition(name string) (EdgeDefinition, bool) {
	for _, def := range g.EdgeDefinitions {
		if def.Collection == name {
			return def, true
		}
	}
	return EdgeDefinition{}, false
}

// EdgeCollections returns the sorted names of all edge collections defined
// in the graph.
func (g *Graph) EdgeCollections() []string {
	names := make([]string, 0, len(g.EdgeDefinitions))
	for _, def := range g.EdgeDefinitions {
		names = append(names, def.Collection)
	}
	return sortedSet(names)
}

// VertexCollections returns the sorted closure of vertex collections used by
// the graph: every From and To collection plus the orphans.
func (g *Graph) VertexCollections() []string {
	sets := make([][]string, 0, 2*len(g.EdgeDefinitions)+1)
	for _, def := range g.EdgeDefinitions {
		sets = append(sets, def.From, def.To)
	}
	sets = append(sets, g.OrphanCollections)
	return sortedSet(sets...)
}

// Collections returns every collection, vertex or edge, owned by the graph.
func (g *Graph) Collections() []string {
	return sortedSet(g.VertexCollections(), g.EdgeCollections())
}

// References reports whether the graph uses the collection either as an edge
// collection or as a vertex collection.
func (g *Graph) References(collection string) bool {
	for _, name := range g.Collections() {
		if name == collection {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	c := *g
	c.EdgeDefinitions = make([]EdgeDefinition, len(g.EdgeDefinitions))
	for i, def := range g.EdgeDefinitions {
		c.EdgeDefinitions[i] = EdgeDefinition{
			Collection: def.Collection,
			From:       append([]string(nil), def.From...),
			To:         append([]string(nil), def.To...),
		}
	}
	c.OrphanCollections = append([]string(nil), g.OrphanCollections...)
	return &c
}

func sortedSet(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, name := range set {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	sa, sb := sortedSet(a), sortedSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
