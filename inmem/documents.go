package inmem

import (
	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/google/uuid"
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

// memberCollection resolves the addressed graph, provided it uses the
// addressed collection in the role the operation expects.
func (ex *Executor) memberCollection(req *transport.Request) (*database, *graph.Graph, *transport.Response) {
	d := ex.dbs[req.Database]
	if d == nil {
		return nil, nil, failure(transport.StatusNotFound, "graph %s/%s", req.Database, req.Graph)
	}

	kind := catalog.VertexKind
	if isEdgeOp(req.Op) {
		kind = catalog.EdgeKind
	}
	g, err := d.cat.Member(req.Graph, req.Collection, kind)
	if err != nil {
		resp, _ := rejected(err)
		return nil, nil, resp
	}
	return d, g, nil
}

// lookupHandle resolves a document handle within the database.
func (d *database) lookupHandle(handle string) catalog.Entity {
	col, key, err := graph.SplitHandle(handle)
	if err != nil {
		return nil
	}
	c := d.docs[col]
	if c == nil {
		return nil
	}
	return c.docs[key]
}

func (d *database) exists(handle string) (bool, error) {
	return d.lookupHandle(handle) != nil, nil
}

func (ex *Executor) createEntity(req *transport.Request) (*transport.Response, error) {
	attrs, bad := ex.decodeEntity(req.Body)
	if bad != nil {
		return bad, nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	d, g, nf := ex.memberCollection(req)
	if nf != nil {
		return nf, nil
	}
	c := d.collection(req.Collection)
	if isEdgeOp(req.Op) {
		if err := catalog.CheckEndpoints(g, req.Collection, attrs, d.exists); err != nil {
			return rejected(err)
		}
	}

	key := attrs.Str(graph.KeyField)
	if key == "" {
		for {
			key = uuid.New().String()
			if _, exists := c.docs[key]; !exists {
				break
			}
		}
	} else if _, exists := c.docs[key]; exists {
		return failure(transport.StatusConflict, "unique constraint violated: %s", graph.Handle(req.Collection, key)), nil
	}

	attrs.Stamp(req.Collection, key, ex.nextRev())
	c.put(key, attrs)
	return ex.replyEntity(writeStatus(req), attrs)
}

func (ex *Executor) getEntity(req *transport.Request) (*transport.Response, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	d, _, nf := ex.memberCollection(req)
	if nf != nil {
		return nf, nil
	}
	e := d.lookupHandle(graph.Handle(req.Collection, req.Key))
	if e == nil {
		return failure(transport.StatusNotFound, "document %s", graph.Handle(req.Collection, req.Key)), nil
	}
	if resp := catalog.Precondition(req.Header, e.Str(graph.RevField), true); resp != nil {
		return resp, nil
	}
	return ex.replyEntity(transport.StatusOK, e)
}

// writeEntity handles replace and update (merge) calls.
func (ex *Executor) writeEntity(req *transport.Request) (*transport.Response, error) {
	patch, bad := ex.decodeEntity(req.Body)
	if bad != nil {
		return bad, nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	d, g, nf := ex.memberCollection(req)
	if nf != nil {
		return nf, nil
	}
	c := d.collection(req.Collection)
	existing := c.docs[req.Key]
	if existing == nil {
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
			if err := catalog.CheckEndpoints(g, req.Collection, next, d.exists); err != nil {
				return rejected(err)
			}
		}
	}

	next.Stamp(req.Collection, req.Key, ex.nextRev())
	c.put(req.Key, next)
	return ex.replyEntity(writeStatus(req), next)
}

// deleteEntity removes a document. Removing a vertex also removes the edges
// of the graph touching it.
func (ex *Executor) deleteEntity(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	d, g, nf := ex.memberCollection(req)
	if nf != nil {
		return nf, nil
	}
	c := d.collection(req.Collection)
	existing := c.docs[req.Key]
	if existing == nil {
		return failure(transport.StatusNotFound, "document %s", graph.Handle(req.Collection, req.Key)), nil
	}
	if resp := catalog.Precondition(req.Header, existing.Str(graph.RevField), false); resp != nil {
		return resp, nil
	}
	c.remove(req.Key)

	if !isEdgeOp(req.Op) {
		id := existing.Str(graph.IDField)
		for _, name := range g.EdgeCollections() {
			ec := d.docs[name]
			if ec == nil {
				continue
			}
			for _, key := range append([]string(nil), ec.order...) {
				e := ec.docs[key]
				if e.Str(graph.FromField) == id || e.Str(graph.ToField) == id {
					ec.remove(key)
				}
			}
		}
	}
	return ex.replyEntity(writeStatus(req), existing.Tombstone())
}
