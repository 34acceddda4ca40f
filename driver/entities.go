package driver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/revision"
	"github.com/ejacobg/graphdriver/transport"
)

// entityCall executes a single-entity request guarded by cond.
func (d *Driver) entityCall(ctx context.Context, req *transport.Request, cond graph.Precondition) (*transport.Response, error) {
	resp, err := d.exec.Execute(ctx, req)
	if err != nil {
		return nil, transport.Classify(string(req.Op), err)
	}
	handle := graph.Handle(req.Collection, req.Key)
	if err = revision.Translate(req.Op, handle, cond, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Driver) document(op transport.Op, resp *transport.Response) (*graph.Document, error) {
	doc, err := graph.NewDocument(d.codec, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc, nil
}

func (d *Driver) edge(op transport.Op, resp *transport.Response) (*graph.Edge, error) {
	e, err := graph.NewEdge(d.codec, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (d *Driver) encode(op transport.Op, v interface{}) ([]byte, error) {
	body, err := d.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", op, err)
	}
	return body, nil
}

func writeParams(waitForSync bool) map[string]string {
	return map[string]string{transport.ParamWaitForSync: strconv.FormatBool(waitForSync)}
}

// CreateVertex stores a new vertex. A _key attribute in the payload is
// honoured; otherwise the server assigns one.
func (d *Driver) CreateVertex(ctx context.Context, db, graphName, collection string, vertex interface{}, waitForSync bool) (*graph.Document, error) {
	op := transport.OpCreateVertex
	if err := requireNames(string(op), db, graphName, collection); err != nil {
		return nil, err
	}
	body, err := d.encode(op, vertex)
	if err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Params:     writeParams(waitForSync),
		Body:       body,
	}, graph.None())
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// Vertex fetches a vertex.
func (d *Driver) Vertex(ctx context.Context, db, graphName, collection, key string, opts graph.ReadOptions) (*graph.Document, error) {
	op := transport.OpGetVertex
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// ReplaceVertex replaces the full payload of a vertex.
func (d *Driver) ReplaceVertex(ctx context.Context, db, graphName, collection, key string, vertex interface{}, opts graph.WriteOptions) (*graph.Document, error) {
	op := transport.OpReplaceVertex
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}
	body, err := d.encode(op, vertex)
	if err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
		Params:     writeParams(opts.WaitForSync),
		Body:       body,
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// UpdateVertex merges patch into a vertex.
func (d *Driver) UpdateVertex(ctx context.Context, db, graphName, collection, key string, patch interface{}, opts graph.UpdateOptions) (*graph.Document, error) {
	op := transport.OpUpdateVertex
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}
	body, err := d.encode(op, patch)
	if err != nil {
		return nil, err
	}

	params := writeParams(opts.WaitForSync)
	params[transport.ParamKeepNull] = strconv.FormatBool(opts.KeepNull)
	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
		Params:     params,
		Body:       body,
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// DeleteVertex removes a vertex together with the edges touching it. The
// returned document carries the key and last revision of the removed
// vertex.
func (d *Driver) DeleteVertex(ctx context.Context, db, graphName, collection, key string, opts graph.WriteOptions) (*graph.Document, error) {
	op := transport.OpDeleteVertex
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
		Params:     writeParams(opts.WaitForSync),
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// CreateEdge stores an edge from one vertex handle to another.
func (d *Driver) CreateEdge(ctx context.Context, db, graphName, collection, key, from, to string, value interface{}, waitForSync bool) (*graph.Edge, error) {
	op := transport.OpCreateEdge
	if err := requireNames(string(op), db, graphName, collection); err != nil {
		return nil, err
	}
	for _, handle := range []string{from, to} {
		if _, _, err := graph.SplitHandle(handle); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	meta := map[string]interface{}{graph.FromField: from, graph.ToField: to}
	if key != "" {
		meta[graph.KeyField] = key
	}
	body, err := codec.Merge(d.codec, value, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", op, err)
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Params:     writeParams(waitForSync),
		Body:       body,
	}, graph.None())
	if err != nil {
		return nil, err
	}
	return d.edge(op, resp)
}

// Edge fetches an edge.
func (d *Driver) Edge(ctx context.Context, db, graphName, collection, key string, opts graph.ReadOptions) (*graph.Edge, error) {
	op := transport.OpGetEdge
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.edge(op, resp)
}

// ReplaceEdge replaces the payload of an edge. The origin and destination
// are kept unless the payload sets them.
func (d *Driver) ReplaceEdge(ctx context.Context, db, graphName, collection, key string, value interface{}, opts graph.WriteOptions) (*graph.Edge, error) {
	op := transport.OpReplaceEdge
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}
	body, err := d.encode(op, value)
	if err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
		Params:     writeParams(opts.WaitForSync),
		Body:       body,
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.edge(op, resp)
}

// DeleteEdge removes an edge.
func (d *Driver) DeleteEdge(ctx context.Context, db, graphName, collection, key string, opts graph.WriteOptions) (*graph.Document, error) {
	op := transport.OpDeleteEdge
	if err := requireNames(string(op), db, graphName, collection, key); err != nil {
		return nil, err
	}

	resp, err := d.entityCall(ctx, &transport.Request{
		Op:         op,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Key:        key,
		Header:     revision.Attach(opts.Rev, opts.Condition),
		Params:     writeParams(opts.WaitForSync),
	}, opts.Condition)
	if err != nil {
		return nil, err
	}
	return d.document(op, resp)
}

// EdgeByHandle fetches an edge addressed by its collection-qualified key.
func (d *Driver) EdgeByHandle(ctx context.Context, db, graphName, handle string, opts graph.ReadOptions) (*graph.Edge, error) {
	col, key, err := graph.SplitHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.OpGetEdge, err)
	}
	return d.Edge(ctx, db, graphName, col, key, opts)
}

// ReplaceEdgeByHandle replaces an edge addressed by its handle.
func (d *Driver) ReplaceEdgeByHandle(ctx context.Context, db, graphName, handle string, value interface{}, opts graph.WriteOptions) (*graph.Edge, error) {
	col, key, err := graph.SplitHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.OpReplaceEdge, err)
	}
	return d.ReplaceEdge(ctx, db, graphName, col, key, value, opts)
}

// DeleteEdgeByHandle removes an edge addressed by its handle.
func (d *Driver) DeleteEdgeByHandle(ctx context.Context, db, graphName, handle string, opts graph.WriteOptions) (*graph.Document, error) {
	col, key, err := graph.SplitHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.OpDeleteEdge, err)
	}
	return d.DeleteEdge(ctx, db, graphName, col, key, opts)
}
