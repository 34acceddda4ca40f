package graph

import "context"

// ReadOptions control single-entity reads.
type ReadOptions struct {
	// Rev records the revision the caller last read. It is advisory and
	// never becomes a precondition.
	Rev string

	// Condition is the optimistic-concurrency check to attach.
	Condition Precondition
}

// WriteOptions control single-entity writes and deletes.
type WriteOptions struct {
	WaitForSync bool

	// Rev is advisory, see ReadOptions.
	Rev string

	Condition Precondition
}

// UpdateOptions control partial updates.
type UpdateOptions struct {
	WriteOptions

	// KeepNull keeps attributes explicitly set to null in the patch instead
	// of removing them.
	KeepNull bool
}

// Driver is implemented by objects that can create, inspect and mutate
// graphs and their entities on a remote graph database.
type Driver interface {
	// CreateGraph creates a graph with the given edge definitions and
	// orphan collections. Both may be empty.
	CreateGraph(ctx context.Context, db, name string, defs []EdgeDefinition, orphans []string, waitForSync bool) (*Graph, error)

	// Graphs returns every graph of the database.
	Graphs(ctx context.Context, db string) ([]*Graph, error)

	// GraphNames returns the names of every graph of the database.
	GraphNames(ctx context.Context, db string) ([]string, error)

	// Graph looks up a graph by name.
	Graph(ctx context.Context, db, name string) (*Graph, error)

	// DeleteGraph deletes a graph. With dropCollections set, collections
	// not used by any other graph are dropped as well.
	DeleteGraph(ctx context.Context, db, name string, dropCollections bool) (*DropReport, error)

	// VertexCollections lists the vertex collections of a graph.
	VertexCollections(ctx context.Context, db, graph string) ([]string, error)

	// CreateVertexCollection adds an orphan vertex collection to a graph.
	CreateVertexCollection(ctx context.Context, db, graph, collection string) (*Graph, error)

	// DeleteVertexCollection removes a vertex collection from a graph and
	// optionally drops it if no other graph uses it.
	DeleteVertexCollection(ctx context.Context, db, graph, collection string, dropCollection bool) (*DropReport, error)

	// EdgeCollections lists the edge collections of a graph.
	EdgeCollections(ctx context.Context, db, graph string) ([]string, error)

	// CreateEdgeDefinition adds an edge definition to a graph.
	CreateEdgeDefinition(ctx context.Context, db, graph string, def EdgeDefinition) (*Graph, error)

	// ReplaceEdgeDefinition replaces the named edge definition in every
	// graph that uses it.
	ReplaceEdgeDefinition(ctx context.Context, db, graph, name string, def EdgeDefinition) (*Graph, error)

	// DeleteEdgeDefinition removes an edge definition from a graph and
	// optionally drops its collections if no other graph uses them.
	DeleteEdgeDefinition(ctx context.Context, db, graph, name string, dropCollection bool) (*DropReport, error)

	CreateVertex(ctx context.Context, db, graph, collection string, vertex interface{}, waitForSync bool) (*Document, error)
	Vertex(ctx context.Context, db, graph, collection, key string, opts ReadOptions) (*Document, error)
	ReplaceVertex(ctx context.Context, db, graph, collection, key string, vertex interface{}, opts WriteOptions) (*Document, error)
	UpdateVertex(ctx context.Context, db, graph, collection, key string, patch interface{}, opts UpdateOptions) (*Document, error)
	DeleteVertex(ctx context.Context, db, graph, collection, key string, opts WriteOptions) (*Document, error)

	// CreateEdge stores an edge between two vertex handles. An empty key
	// lets the server assign one.
	CreateEdge(ctx context.Context, db, graph, collection, key, from, to string, value interface{}, waitForSync bool) (*Edge, error)
	Edge(ctx context.Context, db, graph, collection, key string, opts ReadOptions) (*Edge, error)
	ReplaceEdge(ctx context.Context, db, graph, collection, key string, value interface{}, opts WriteOptions) (*Edge, error)
	DeleteEdge(ctx context.Context, db, graph, collection, key string, opts WriteOptions) (*Document, error)

	// The handle variants address an edge by its collection-qualified key.
	EdgeByHandle(ctx context.Context, db, graph, handle string, opts ReadOptions) (*Edge, error)
	ReplaceEdgeByHandle(ctx context.Context, db, graph, handle string, value interface{}, opts WriteOptions) (*Edge, error)
	DeleteEdgeByHandle(ctx context.Context, db, graph, handle string, opts WriteOptions) (*Document, error)

	// Vertices returns the fully materialized neighbours of a vertex.
	Vertices(ctx context.Context, db, graph string, q TraversalQuery) (*VertexResult, error)

	// VertexResultSet returns a lazily fetched sequence of neighbours.
	VertexResultSet(ctx context.Context, db, graph string, q TraversalQuery) (VertexIterator, error)

	// Edges returns the fully materialized edges touching a vertex.
	Edges(ctx context.Context, db, graph string, q TraversalQuery) (*EdgeResult, error)

	// EdgeResultSet returns a lazily fetched sequence of edges.
	EdgeResultSet(ctx context.Context, db, graph string, q TraversalQuery) (EdgeIterator, error)
}

// VertexResult is an eagerly materialized traversal result.
type VertexResult struct {
	Vertices []*Document

	// Count is the total result count, independent of any limit. Only set
	// if HasCount is true.
	Count    int64
	HasCount bool
}

// EdgeResult is an eagerly materialized edge traversal result.
type EdgeResult struct {
	Edges    []*Edge
	Count    int64
	HasCount bool
}

// Iterator is implemented by forward-only result sets. Iterators must not be
// advanced from more than one goroutine at a time.
type Iterator interface {
	// Next advances the iterator. If no more items are available or an
	// error occurs, calls to Next() return false. Calling Next() after it
	// returned false records ErrCursorExhausted or ErrCursorClosed.
	Next(ctx context.Context) bool

	// Error returns the last error encountered by the iterator.
	Error() error

	// Close releases any resources associated with an iterator. Closing
	// twice is a no-op.
	Close() error

	// Count returns the total result count, if it was requested.
	Count() (int64, bool)
}

// VertexIterator is implemented by objects that can iterate traversal
// vertices.
type VertexIterator interface {
	Iterator

	// Vertex returns the currently fetched vertex.
	Vertex() *Document
}

// EdgeIterator is implemented by objects that can iterate traversal edges.
type EdgeIterator interface {
	Iterator

	// Edge returns the currently fetched edge.
	Edge() *Edge
}
