package catalog

import (
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
)

// Entity holds the decoded attributes of a stored document, metadata
// attributes included.
type Entity map[string]interface{}

// Str returns a string attribute, or "" if it is absent.
func (e Entity) Str(name string) string {
	s, _ := e[name].(string)
	return s
}

// Stamp sets the metadata attributes of e.
func (e Entity) Stamp(collection, key, rev string) {
	e[graph.KeyField] = key
	e[graph.IDField] = graph.Handle(collection, key)
	e[graph.RevField] = rev
}

// Tombstone returns the metadata echoed for a removed entity.
func (e Entity) Tombstone() Entity {
	return Entity{
		graph.KeyField: e[graph.KeyField],
		graph.IDField:  e[graph.IDField],
		graph.RevField: e[graph.RevField],
	}
}

func isMeta(name string) bool {
	switch name {
	case graph.KeyField, graph.IDField, graph.RevField:
		return true
	}
	return false
}

// Merge applies patch to a copy of existing. Null attributes are removed
// unless keepNull is set.
func Merge(existing, patch Entity, keepNull bool) Entity {
	next := make(Entity, len(existing)+len(patch))
	for k, v := range existing {
		next[k] = v
	}
	for k, v := range patch {
		switch {
		case isMeta(k):
		case v == nil && !keepNull:
			delete(next, k)
		default:
			next[k] = v
		}
	}
	return next
}

// Replace returns patch without metadata attributes. Edges keep their
// endpoints unless patch sets them.
func Replace(existing, patch Entity, edge bool) Entity {
	next := make(Entity, len(patch)+3)
	for k, v := range patch {
		if !isMeta(k) {
			next[k] = v
		}
	}
	if edge {
		for _, end := range []string{graph.FromField, graph.ToField} {
			if next.Str(end) == "" {
				next[end] = existing[end]
			}
		}
	}
	return next
}

// Precondition evaluates the If-Match and If-None-Match headers against the
// live revision and returns the refusal the server sends, or nil. Reads
// answer a matching If-None-Match with NotModified, writes with
// PreconditionFailed.
func Precondition(h transport.Header, current string, read bool) *transport.Response {
	if want, ok := h[transport.HeaderIfMatch]; ok && want != current {
		return &transport.Response{Status: transport.StatusPreconditionFailed, Revision: current, Message: "revision mismatch"}
	}
	if want, ok := h[transport.HeaderIfNoneMatch]; ok && want == current {
		status := transport.StatusPreconditionFailed
		if read {
			status = transport.StatusNotModified
		}
		return &transport.Response{Status: status, Revision: current, Message: "revision matches"}
	}
	return nil
}

// CheckEndpoints validates the origin and destination of an edge against
// the graph's definition for the edge collection. exists reports whether a
// vertex handle resolves.
func CheckEndpoints(g *graph.Graph, edgeCollection string, e Entity, exists func(handle string) (bool, error)) error {
	def, _ := g.EdgeDefinition(edgeCollection)
	ends := []struct {
		handle  string
		allowed []string
	}{
		{e.Str(graph.FromField), def.From},
		{e.Str(graph.ToField), def.To},
	}
	for _, end := range ends {
		col, _, err := graph.SplitHandle(end.handle)
		if err != nil {
			return reject(transport.StatusBadRequest, "invalid edge endpoint %q", end.handle)
		}
		if !contains(end.allowed, col) {
			return reject(transport.StatusBadRequest, "collection %s not allowed by edge definition %s", col, edgeCollection)
		}
		found, err := exists(end.handle)
		if err != nil {
			return err
		} else if !found {
			return reject(transport.StatusNotFound, "vertex %s", end.handle)
		}
	}
	return nil
}
