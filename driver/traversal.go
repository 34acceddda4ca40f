package driver

import (
	"context"
	"fmt"

	"github.com/ejacobg/graphdriver/cursor"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
)

// openCursor validates q and dispatches the initial traversal query.
func (d *Driver) openCursor(ctx context.Context, db, graphName string, target transport.Target, q graph.TraversalQuery) (*cursor.Cursor, error) {
	op := "traverse " + string(target)
	if err := requireNames(op, db, graphName); err != nil {
		return nil, err
	}
	if _, _, err := graph.SplitHandle(q.StartVertex); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if q.Limit < 0 || q.BatchSize < 0 {
		return nil, fmt.Errorf("%s: %w: negative limit or batch size", op, graph.ErrInvalidArgument)
	}
	if q.BatchSize == 0 {
		q.BatchSize = d.cfg.BatchSize
	}
	switch q.Direction {
	case "":
		q.Direction = graph.Any
	case graph.Any, graph.Outbound, graph.Inbound:
	default:
		return nil, fmt.Errorf("%s: %w: unknown direction %q", op, graph.ErrInvalidArgument, q.Direction)
	}

	c, err := cursor.Open(ctx, d.exec, &transport.Query{
		Database:  db,
		Graph:     graphName,
		Target:    target,
		Traversal: q,
	}, cursor.Options{Logger: d.logger.WithField("component", "cursor")})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (d *Driver) decodeVertex(raw []byte) (interface{}, error) {
	return graph.NewDocument(d.codec, raw)
}

func (d *Driver) decodeEdge(raw []byte) (interface{}, error) {
	return graph.NewEdge(d.codec, raw)
}

// Vertices returns every neighbour of the start vertex, materialized.
func (d *Driver) Vertices(ctx context.Context, db, graphName string, q graph.TraversalQuery) (*graph.VertexResult, error) {
	c, err := d.openCursor(ctx, db, graphName, transport.TargetVertices, q)
	if err != nil {
		return nil, err
	}
	count, hasCount := c.Count()

	items, err := cursor.Collect(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("traverse vertices: %w", err)
	}

	res := &graph.VertexResult{Vertices: make([]*graph.Document, 0, len(items)), Count: count, HasCount: hasCount}
	for _, raw := range items {
		doc, err := graph.NewDocument(d.codec, raw)
		if err != nil {
			return nil, fmt.Errorf("traverse vertices: %w", err)
		}
		res.Vertices = append(res.Vertices, doc)
	}
	return res, nil
}

// VertexResultSet returns the neighbours of the start vertex as a lazily
// fetched sequence. Callers must Close it unless it was read to the end.
func (d *Driver) VertexResultSet(ctx context.Context, db, graphName string, q graph.TraversalQuery) (graph.VertexIterator, error) {
	c, err := d.openCursor(ctx, db, graphName, transport.TargetVertices, q)
	if err != nil {
		return nil, err
	}
	return &vertexIterator{Iterator: cursor.NewIterator(c, d.decodeVertex, d.cfg.ReleaseTimeout)}, nil
}

// Edges returns every edge touching the start vertex, materialized.
func (d *Driver) Edges(ctx context.Context, db, graphName string, q graph.TraversalQuery) (*graph.EdgeResult, error) {
	c, err := d.openCursor(ctx, db, graphName, transport.TargetEdges, q)
	if err != nil {
		return nil, err
	}
	count, hasCount := c.Count()

	items, err := cursor.Collect(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("traverse edges: %w", err)
	}

	res := &graph.EdgeResult{Edges: make([]*graph.Edge, 0, len(items)), Count: count, HasCount: hasCount}
	for _, raw := range items {
		e, err := graph.NewEdge(d.codec, raw)
		if err != nil {
			return nil, fmt.Errorf("traverse edges: %w", err)
		}
		res.Edges = append(res.Edges, e)
	}
	return res, nil
}

// EdgeResultSet returns the edges touching the start vertex as a lazily
// fetched sequence.
func (d *Driver) EdgeResultSet(ctx context.Context, db, graphName string, q graph.TraversalQuery) (graph.EdgeIterator, error) {
	c, err := d.openCursor(ctx, db, graphName, transport.TargetEdges, q)
	if err != nil {
		return nil, err
	}
	return &edgeIterator{Iterator: cursor.NewIterator(c, d.decodeEdge, d.cfg.ReleaseTimeout)}, nil
}

// vertexIterator is a graph.VertexIterator backed by a cursor.
type vertexIterator struct {
	*cursor.Iterator
}

// Vertex implements graph.VertexIterator.
func (it *vertexIterator) Vertex() *graph.Document {
	doc, _ := it.Current().(*graph.Document)
	return doc
}

// edgeIterator is a graph.EdgeIterator backed by a cursor.
type edgeIterator struct {
	*cursor.Iterator
}

// Edge implements graph.EdgeIterator.
func (it *edgeIterator) Edge() *graph.Edge {
	e, _ := it.Current().(*graph.Edge)
	return e
}
