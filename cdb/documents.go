package cdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	documentQuery = "SELECT body FROM documents WHERE db = $1 AND collection = $2 AND doc_key = $3"
	existsQuery   = "SELECT EXISTS(SELECT 1 FROM documents WHERE db = $1 AND handle = $2)"

	insertDocumentQuery = `INSERT INTO documents (db, collection, doc_key, handle, rev, from_handle, to_handle, label, body)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)`

	updateDocumentQuery = `UPDATE documents SET rev = $4, from_handle = NULLIF($5, ''), to_handle = NULLIF($6, ''), label = NULLIF($7, ''), body = $8
WHERE db = $1 AND collection = $2 AND doc_key = $3`

	deleteDocumentQuery = "DELETE FROM documents WHERE db = $1 AND collection = $2 AND doc_key = $3"

	cascadeQuery = `DELETE FROM documents WHERE db = $1 AND collection = ANY($2) AND (from_handle = $3 OR to_handle = $3)`
)

func isEdgeOp(op transport.Op) bool {
	switch op {
	case transport.OpCreateEdge, transport.OpGetEdge, transport.OpReplaceEdge, transport.OpDeleteEdge:
		return true
	}
	return false
}

func writeStatus(req *transport.Request) transport.Status {
	if req.Param(transport.ParamWaitForSync) == "true" {
		return transport.StatusCreated
	}
	return transport.StatusAccepted
}

func (ex *Executor) decodeEntity(body []byte) (catalog.Entity, *transport.Response) {
	attrs := make(catalog.Entity)
	if len(body) == 0 {
		return attrs, nil
	}
	if err := ex.codec.Unmarshal(body, &attrs); err != nil {
		return nil, failure(transport.StatusBadRequest, "malformed document: %v", err)
	}
	if attrs == nil {
		attrs = make(catalog.Entity)
	}
	return attrs, nil
}

func (ex *Executor) replyEntity(status transport.Status, e catalog.Entity) (*transport.Response, error) {
	resp, err := ex.reply(status, e)
	if err != nil {
		return nil, err
	}
	resp.Revision = e.Str(graph.RevField)
	return resp, nil
}

// memberGraph loads the addressed graph, provided it uses the addressed
// collection in the role the operation expects.
func (ex *Executor) memberGraph(ctx context.Context, q querier, req *transport.Request) (*graph.Graph, *transport.Response, error) {
	cat, err := ex.loadCatalog(ctx, q, req.Database)
	if err != nil {
		return nil, nil, err
	}
	kind := catalog.VertexKind
	if isEdgeOp(req.Op) {
		kind = catalog.EdgeKind
	}
	g, err := cat.Member(req.Graph, req.Collection, kind)
	if err != nil {
		resp, err := rejected(err)
		return nil, resp, err
	}
	return g, nil, nil
}

// fetchEntity loads a stored document. It returns nil if the document does
// not exist.
func (ex *Executor) fetchEntity(ctx context.Context, q querier, db, collection, key string) (catalog.Entity, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, documentQuery, db, collection, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	e := make(catalog.Entity)
	if err = ex.codec.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("fetch document: decode: %w", err)
	}
	return e, nil
}

// existsFn returns a vertex lookup for catalog.CheckEndpoints.
func existsFn(ctx context.Context, q querier, db string) func(string) (bool, error) {
	return func(handle string) (bool, error) {
		var found bool
		if err := q.QueryRowContext(ctx, existsQuery, db, handle).Scan(&found); err != nil {
			return false, fmt.Errorf("lookup vertex: %w", err)
		}
		return found, nil
	}
}

func (ex *Executor) createEntity(ctx context.Context, tx *sql.Tx, req *transport.Request) (*transport.Response, error) {
	attrs, bad := ex.decodeEntity(req.Body)
	if bad != nil {
		return bad, nil
	}
	g, nf, err := ex.memberGraph(ctx, tx, req)
	if nf != nil || err != nil {
		return nf, err
	}
	if isEdgeOp(req.Op) {
		if err = catalog.CheckEndpoints(g, req.Collection, attrs, existsFn(ctx, tx, req.Database)); err != nil {
			return rejected(err)
		}
	}

	key := attrs.Str(graph.KeyField)
	if key == "" {
		key = uuid.New().String()
	} else {
		existing, err := ex.fetchEntity(ctx, tx, req.Database, req.Collection, key)
		if err != nil {
			return nil, err
		} else if existing != nil {
			return failure(transport.StatusConflict, "unique constraint violated: %s", graph.Handle(req.Collection, key)), nil
		}
	}

	attrs.Stamp(req.Collection, key, newRev())
	raw, err := ex.codec.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	_, err = tx.ExecContext(ctx, insertDocumentQuery,
		req.Database, req.Collection, key, attrs.Str(graph.IDField), attrs.Str(graph.RevField),
		attrs.Str(graph.FromField), attrs.Str(graph.ToField), attrs.Str(graph.LabelField), raw,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return ex.replyEntity(writeStatus(req), attrs)
}

func (ex *Executor) getEntity(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	_, nf, err := ex.memberGraph(ctx, ex.db, req)
	if nf != nil || err != nil {
		return nf, err
	}
	e, err := ex.fetchEntity(ctx, ex.db, req.Database, req.Collection, req.Key)
	if err != nil {
		return nil, err
	} else if e == nil {
		return failure(transport.StatusNotFound, "document %s", graph.Handle(req.Collection, req.Key)), nil
	}
	if resp := catalog.Precondition(req.Header, e.Str(graph.RevField), true); resp != nil {
		return resp, nil
	}
	return ex.replyEntity(transport.StatusOK, e)
}

// writeEntity handles replace and update (merge) calls.
func (ex *Executor) writeEntity(ctx context.Context, tx *sql.Tx, req *transport.Request) (*transport.Response, error) {
	patch, bad := ex.decodeEntity(req.Body)
	if bad != nil {
		return bad, nil
	}
	g, nf, err := ex.memberGraph(ctx, tx, req)
	if nf != nil || err != nil {
		return nf, err
	}
	existing, err := ex.fetchEntity(ctx, tx, req.Database, req.Collection, req.Key)
	if err != nil {
		return nil, err
	} else if existing == nil {
		return failure(transport.StatusNotFound, "document %s", graph.Handle(req.Collection, req.Key)), nil
	}
	if resp := catalog.Precondition(req.Header, existing.Str(graph.RevField), false); resp != nil {
		return resp, nil
	}

	var next catalog.Entity
	if req.Op == transport.OpUpdateVertex {
		next = catalog.Merge(existing, patch, req.Param(transport.ParamKeepNull) != "false")
	} else {
		next = catalog.Replace(existing, patch, isEdgeOp(req.Op))
		if isEdgeOp(req.Op) {
			if err = catalog.CheckEndpoints(g, req.Collection, next, existsFn(ctx, tx, req.Database)); err != nil {
				return rejected(err)
			}
		}
	}

	next.Stamp(req.Collection, req.Key, newRev())
	raw, err := ex.codec.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	_, err = tx.ExecContext(ctx, updateDocumentQuery,
		req.Database, req.Collection, req.Key, next.Str(graph.RevField),
		next.Str(graph.FromField), next.Str(graph.ToField), next.Str(graph.LabelField), raw,
	)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return ex.replyEntity(writeStatus(req), next)
}

// deleteEntity removes a document. Removing a vertex also removes the edges
// of the graph touching it.
func (ex *Executor) deleteEntity(ctx context.Context, tx *sql.Tx, req *transport.Request) (*transport.Response, error) {
	g, nf, err := ex.memberGraph(ctx, tx, req)
	if nf != nil || err != nil {
		return nf, err
	}
	existing, err := ex.fetchEntity(ctx, tx, req.Database, req.Collection, req.Key)
	if err != nil {
		return nil, err
	} else if existing == nil {
		return failure(transport.StatusNotFound, "document %s", graph.Handle(req.Collection, req.Key)), nil
	}
	if resp := catalog.Precondition(req.Header, existing.Str(graph.RevField), false); resp != nil {
		return resp, nil
	}

	if _, err = tx.ExecContext(ctx, deleteDocumentQuery, req.Database, req.Collection, req.Key); err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	if !isEdgeOp(req.Op) {
		_, err = tx.ExecContext(ctx, cascadeQuery, req.Database, pq.Array(g.EdgeCollections()), existing.Str(graph.IDField))
		if err != nil {
			return nil, fmt.Errorf("delete incident edges: %w", err)
		}
	}
	return ex.replyEntity(writeStatus(req), existing.Tombstone())
}
