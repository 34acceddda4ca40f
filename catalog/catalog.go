// Package catalog implements the server-side schema rules shared by the
// executors that emulate the remote graph server: which graphs exist in a
// database, which collections they use and how edge definitions are shared
// between graphs.
package catalog

import (
	"fmt"
	"sort"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
)

// Kind is the type of a physical collection.
type Kind string

// Collection kinds.
const (
	VertexKind Kind = "vertex"
	EdgeKind   Kind = "edge"
)

// Catalog holds the schema of a single database. It is not safe for
// concurrent use; executors guard it with their own locks or load a fresh
// copy per transaction.
//
// Every method returns a *transport.StatusError when the server would
// reject the call.
type Catalog struct {
	Database string

	// Graphs indexed by name.
	Graphs map[string]*graph.Graph

	// Collections maps every physical collection to its kind.
	Collections map[string]Kind

	// NextRev returns a fresh revision token for a changed graph.
	NextRev func() string

	dropped []string
}

// New returns an empty catalog for db.
func New(db string, nextRev func() string) *Catalog {
	return &Catalog{
		Database:    db,
		Graphs:      make(map[string]*graph.Graph),
		Collections: make(map[string]Kind),
		NextRev:     nextRev,
	}
}

func reject(status transport.Status, format string, args ...interface{}) error {
	return &transport.StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// TakeDropped returns the collections dropped since the last call.
func (c *Catalog) TakeDropped() []string {
	dropped := c.dropped
	c.dropped = nil
	return dropped
}

// List returns the graphs sorted by name.
func (c *Catalog) List() []*graph.Graph {
	list := make([]*graph.Graph, 0, len(c.Graphs))
	for _, g := range c.Graphs {
		list = append(list, g)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Graph looks up a graph by name.
func (c *Catalog) Graph(name string) (*graph.Graph, error) {
	g := c.Graphs[name]
	if g == nil {
		return nil, reject(transport.StatusNotFound, "graph %s/%s", c.Database, name)
	}
	return g, nil
}

// Member returns the graph if it uses collection in the given role.
func (c *Catalog) Member(graphName, collection string, kind Kind) (*graph.Graph, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, err
	}

	members := g.VertexCollections()
	if kind == EdgeKind {
		members = g.EdgeCollections()
	}
	if !contains(members, collection) || c.Collections[collection] != kind {
		return nil, reject(transport.StatusNotFound, "collection %s in graph %s", collection, graphName)
	}
	return g, nil
}

// Users returns the sorted names of the graphs referencing a collection.
func (c *Catalog) Users(collection string) []string {
	var names []string
	for _, g := range c.Graphs {
		if g.References(collection) {
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

// CreateGraph creates a graph together with any missing collection.
func (c *Catalog) CreateGraph(spec *graph.Graph) (*graph.Graph, error) {
	if spec.Name == "" {
		return nil, reject(transport.StatusBadRequest, "graph name is empty")
	}
	if c.Graphs[spec.Name] != nil {
		return nil, reject(transport.StatusConflict, "graph %s already exists", spec.Name)
	}

	seen := make(map[string]bool)
	for _, def := range spec.EdgeDefinitions {
		if seen[def.Collection] {
			return nil, reject(transport.StatusBadRequest, "edge definition %s listed twice", def.Collection)
		}
		seen[def.Collection] = true
		if err := c.checkDefinition(def); err != nil {
			return nil, err
		}
	}
	for _, name := range spec.OrphanCollections {
		if c.Collections[name] == EdgeKind {
			return nil, reject(transport.StatusBadRequest, "%s is an edge collection", name)
		}
	}

	g := &graph.Graph{
		Database:        c.Database,
		Name:            spec.Name,
		EdgeDefinitions: make([]graph.EdgeDefinition, 0, len(spec.EdgeDefinitions)),
	}
	for _, def := range spec.EdgeDefinitions {
		g.EdgeDefinitions = append(g.EdgeDefinitions, Normalize(def))
		c.ensureCollections(def)
	}
	g.OrphanCollections = orphansAfter(g, spec.OrphanCollections)
	for _, name := range g.OrphanCollections {
		c.ensureCollection(name, VertexKind)
	}
	g.Revision = c.NextRev()
	c.Graphs[g.Name] = g
	return g, nil
}

// DeleteGraph removes a graph. With dropCollections set, its collections
// no other graph references are dropped as well.
func (c *Catalog) DeleteGraph(name string, dropCollections bool) error {
	g, err := c.Graph(name)
	if err != nil {
		return err
	}
	delete(c.Graphs, name)

	if dropCollections {
		for _, col := range g.Collections() {
			if len(c.Users(col)) == 0 {
				c.drop(col)
			}
		}
	}
	return nil
}

// DropCollection physically removes a collection. The caller is expected
// to have checked that no graph still needs it.
func (c *Catalog) DropCollection(name string) error {
	if _, exists := c.Collections[name]; !exists {
		return reject(transport.StatusNotFound, "collection %s/%s", c.Database, name)
	}
	c.drop(name)
	return nil
}

func (c *Catalog) drop(name string) {
	delete(c.Collections, name)
	c.dropped = append(c.dropped, name)
}

// AddVertexCollection adds an orphan collection to a graph.
func (c *Catalog) AddVertexCollection(graphName, collection string) (*graph.Graph, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, err
	}
	if collection == "" {
		return nil, reject(transport.StatusBadRequest, "collection name is empty")
	}
	if c.Collections[collection] == EdgeKind {
		return nil, reject(transport.StatusBadRequest, "%s is an edge collection", collection)
	}
	if contains(g.VertexCollections(), collection) {
		return nil, reject(transport.StatusConflict, "%s is already used by graph %s", collection, g.Name)
	}

	c.ensureCollection(collection, VertexKind)
	g.OrphanCollections = orphansAfter(g, append(g.OrphanCollections, collection))
	g.Revision = c.NextRev()
	return g, nil
}

// RemoveVertexCollection removes an orphan collection from a graph.
func (c *Catalog) RemoveVertexCollection(graphName, collection string, dropCollection bool) (*graph.Graph, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, err
	}
	if vertexUse(g.EdgeDefinitions)[collection] {
		return nil, reject(transport.StatusBadRequest, "%s is used in an edge definition", collection)
	}
	orphans, found := without(g.OrphanCollections, collection)
	if !found {
		return nil, reject(transport.StatusNotFound, "vertex collection %s in graph %s", collection, graphName)
	}
	g.OrphanCollections = orphans
	g.Revision = c.NextRev()

	if dropCollection && len(c.Users(collection)) == 0 {
		c.drop(collection)
	}
	return g, nil
}

// AddEdgeDefinition adds a definition to a graph. A definition of the same
// name in another graph must describe the same collections.
func (c *Catalog) AddEdgeDefinition(graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, err
	}
	if err = checkComplete(def); err != nil {
		return nil, err
	}
	def = Normalize(def)
	if _, exists := g.EdgeDefinition(def.Collection); exists {
		return nil, reject(transport.StatusConflict, "edge definition %s already exists", def.Collection)
	}
	if err = c.checkDefinition(def); err != nil {
		return nil, err
	}

	c.ensureCollections(def)
	g.EdgeDefinitions = append(g.EdgeDefinitions, def)
	g.OrphanCollections = orphansAfter(g, g.OrphanCollections)
	g.Revision = c.NextRev()
	return g, nil
}

// ReplaceEdgeDefinition applies def to every graph of the database that
// defines it. It returns the addressed graph and the names of all graphs
// that changed.
func (c *Catalog) ReplaceEdgeDefinition(graphName string, def graph.EdgeDefinition) (*graph.Graph, []string, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, nil, err
	}
	if err = checkComplete(def); err != nil {
		return nil, nil, err
	}
	def = Normalize(def)
	if _, exists := g.EdgeDefinition(def.Collection); !exists {
		return nil, nil, reject(transport.StatusNotFound, "edge definition %s in graph %s", def.Collection, graphName)
	}
	if err = c.checkKinds(def); err != nil {
		return nil, nil, err
	}

	c.ensureCollections(def)
	var changed []string
	for _, other := range c.List() {
		old, uses := other.EdgeDefinition(def.Collection)
		if !uses {
			continue
		}
		for i := range other.EdgeDefinitions {
			if other.EdgeDefinitions[i].Collection == def.Collection {
				other.EdgeDefinitions[i] = def
			}
		}
		other.OrphanCollections = orphansAfter(other, append(other.OrphanCollections, old.VertexCollections()...))
		other.Revision = c.NextRev()
		changed = append(changed, other.Name)
	}
	return g, changed, nil
}

// RemoveEdgeDefinition removes a definition from a graph. Vertex
// collections no other definition of the graph uses become orphans.
func (c *Catalog) RemoveEdgeDefinition(graphName, name string, dropCollection bool) (*graph.Graph, error) {
	g, err := c.Graph(graphName)
	if err != nil {
		return nil, err
	}
	old, exists := g.EdgeDefinition(name)
	if !exists {
		return nil, reject(transport.StatusNotFound, "edge definition %s in graph %s", name, graphName)
	}

	defs := make([]graph.EdgeDefinition, 0, len(g.EdgeDefinitions)-1)
	for _, def := range g.EdgeDefinitions {
		if def.Collection != name {
			defs = append(defs, def)
		}
	}
	g.EdgeDefinitions = defs
	g.OrphanCollections = orphansAfter(g, append(g.OrphanCollections, old.VertexCollections()...))
	g.Revision = c.NextRev()

	if dropCollection && len(c.Users(name)) == 0 {
		c.drop(name)
	}
	return g, nil
}

func checkComplete(def graph.EdgeDefinition) error {
	if def.Collection == "" || len(def.From) == 0 || len(def.To) == 0 {
		return reject(transport.StatusBadRequest, "edge definition needs a collection and both vertex sets")
	}
	return nil
}

// checkKinds rejects a definition whose collections exist with the wrong
// kind.
func (c *Catalog) checkKinds(def graph.EdgeDefinition) error {
	if c.Collections[def.Collection] == VertexKind {
		return reject(transport.StatusBadRequest, "%s is a vertex collection", def.Collection)
	}
	for _, name := range def.VertexCollections() {
		if c.Collections[name] == EdgeKind {
			return reject(transport.StatusBadRequest, "%s is an edge collection", name)
		}
	}
	return nil
}

// checkDefinition additionally rejects a definition that conflicts with a
// same-named definition of another graph.
func (c *Catalog) checkDefinition(def graph.EdgeDefinition) error {
	if err := c.checkKinds(def); err != nil {
		return err
	}
	for _, other := range c.Graphs {
		if existing, ok := other.EdgeDefinition(def.Collection); ok && !existing.Equal(def) {
			return reject(transport.StatusBadRequest, "edge definition %s conflicts with graph %s", def.Collection, other.Name)
		}
	}
	return nil
}

func (c *Catalog) ensureCollection(name string, kind Kind) {
	if _, exists := c.Collections[name]; !exists {
		c.Collections[name] = kind
	}
}

func (c *Catalog) ensureCollections(def graph.EdgeDefinition) {
	c.ensureCollection(def.Collection, EdgeKind)
	for _, name := range def.VertexCollections() {
		c.ensureCollection(name, VertexKind)
	}
}

// Normalize sorts and dedups the vertex sets of a definition.
func Normalize(def graph.EdgeDefinition) graph.EdgeDefinition {
	return graph.EdgeDefinition{
		Collection: def.Collection,
		From:       sortedCopy(def.From),
		To:         sortedCopy(def.To),
	}
}

// vertexUse returns the set of vertex collections used by defs.
func vertexUse(defs []graph.EdgeDefinition) map[string]bool {
	used := make(map[string]bool)
	for _, def := range defs {
		for _, name := range def.VertexCollections() {
			used[name] = true
		}
	}
	return used
}

// orphansAfter returns the candidates not used by any definition of g.
func orphansAfter(g *graph.Graph, candidates []string) []string {
	used := vertexUse(g.EdgeDefinitions)
	var orphans []string
	for _, name := range candidates {
		if !used[name] {
			orphans = append(orphans, name)
			used[name] = true
		}
	}
	return sortedCopy(orphans)
}

func sortedCopy(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func without(names []string, name string) ([]string, bool) {
	out := make([]string, 0, len(names))
	found := false
	for _, n := range names {
		if n == name {
			found = true
			continue
		}
		out = append(out, n)
	}
	return out, found
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
