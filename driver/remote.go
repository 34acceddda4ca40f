package driver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/schema"
	"github.com/ejacobg/graphdriver/transport"
)

// Compile-time check for ensuring remote implements schema.Remote.
var _ schema.Remote = (*remote)(nil)

// remote performs the raw schema calls. Removal calls never ask the server
// to drop collections.
type remote struct {
	exec  transport.Executor
	codec codec.Codec
}

func (r *remote) call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := r.exec.Execute(ctx, req)
	if err != nil {
		return nil, transport.Classify(string(req.Op), err)
	}
	if err = transport.CheckResponse(string(req.Op), resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *remote) graphCall(ctx context.Context, req *transport.Request) (*graph.Graph, error) {
	resp, err := r.exec.Execute(ctx, req)
	if err != nil {
		return nil, transport.Classify(string(req.Op), err)
	}

	switch {
	case resp.Status == transport.StatusNotFound:
		return nil, &graph.NotFoundError{Kind: "graph", Name: notFoundName(req, resp)}
	case resp.Status == transport.StatusConflict && req.Op == transport.OpAddEdgeDefinition:
		return nil, &graph.DuplicateDefinitionError{Database: req.Database, Graph: req.Graph, Name: req.Collection}
	}
	if err = transport.CheckResponse(string(req.Op), resp); err != nil {
		return nil, err
	}

	g := new(graph.Graph)
	if err = r.codec.Unmarshal(resp.Body, g); err != nil {
		return nil, fmt.Errorf("%s: decode graph: %w", req.Op, err)
	}
	return g, nil
}

func notFoundName(req *transport.Request, resp *transport.Response) string {
	if resp.Message != "" {
		return resp.Message
	}
	return req.Database + "/" + req.Graph
}

func (r *remote) ListGraphs(ctx context.Context, db string) ([]*graph.Graph, error) {
	resp, err := r.call(ctx, &transport.Request{Op: transport.OpListGraphs, Database: db})
	if err != nil {
		return nil, err
	}
	var list transport.GraphList
	if err = r.codec.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("list graphs: decode: %w", err)
	}
	return list.Graphs, nil
}

func (r *remote) GetGraph(ctx context.Context, db, name string) (*graph.Graph, error) {
	return r.graphCall(ctx, &transport.Request{Op: transport.OpGetGraph, Database: db, Graph: name})
}

func (r *remote) CreateGraph(ctx context.Context, g *graph.Graph, waitForSync bool) (*graph.Graph, error) {
	body, err := r.codec.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("create graph: encode: %w", err)
	}
	return r.graphCall(ctx, &transport.Request{
		Op:       transport.OpCreateGraph,
		Database: g.Database,
		Graph:    g.Name,
		Params:   map[string]string{transport.ParamWaitForSync: strconv.FormatBool(waitForSync)},
		Body:     body,
	})
}

func (r *remote) DeleteGraph(ctx context.Context, db, name string) error {
	resp, err := r.exec.Execute(ctx, &transport.Request{
		Op:       transport.OpDeleteGraph,
		Database: db,
		Graph:    name,
		Params:   map[string]string{transport.ParamDropCollections: "false"},
	})
	if err != nil {
		return transport.Classify(string(transport.OpDeleteGraph), err)
	}
	if resp.Status == transport.StatusNotFound {
		return &graph.NotFoundError{Kind: "graph", Name: db + "/" + name}
	}
	return transport.CheckResponse(string(transport.OpDeleteGraph), resp)
}

func (r *remote) AddVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error) {
	return r.graphCall(ctx, &transport.Request{
		Op:         transport.OpAddVertexCollection,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
	})
}

func (r *remote) RemoveVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error) {
	return r.graphCall(ctx, &transport.Request{
		Op:         transport.OpRemoveVertexCollection,
		Database:   db,
		Graph:      graphName,
		Collection: collection,
		Params:     map[string]string{transport.ParamDropCollection: "false"},
	})
}

func (r *remote) AddEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	body, err := r.codec.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("add edge definition: encode: %w", err)
	}
	return r.graphCall(ctx, &transport.Request{
		Op:         transport.OpAddEdgeDefinition,
		Database:   db,
		Graph:      graphName,
		Collection: def.Collection,
		Body:       body,
	})
}

func (r *remote) ReplaceEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	body, err := r.codec.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("replace edge definition: encode: %w", err)
	}
	return r.graphCall(ctx, &transport.Request{
		Op:         transport.OpReplaceEdgeDefinition,
		Database:   db,
		Graph:      graphName,
		Collection: def.Collection,
		Body:       body,
	})
}

func (r *remote) RemoveEdgeDefinition(ctx context.Context, db, graphName, name string) (*graph.Graph, error) {
	return r.graphCall(ctx, &transport.Request{
		Op:         transport.OpRemoveEdgeDefinition,
		Database:   db,
		Graph:      graphName,
		Collection: name,
		Params:     map[string]string{transport.ParamDropCollection: "false"},
	})
}

func (r *remote) DropCollection(ctx context.Context, db, collection string) error {
	_, err := r.call(ctx, &transport.Request{
		Op:         transport.OpDropCollection,
		Database:   db,
		Collection: collection,
	})
	return err
}

// requireNames rejects empty identifiers before any request is sent.
func requireNames(op string, names ...string) error {
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%s: %w: empty name", op, graph.ErrInvalidArgument)
		}
	}
	return nil
}
