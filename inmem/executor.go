// Package inmem provides an in-memory transport executor that emulates the
// remote graph server.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/juju/clock"
)

// Compile-time check for ensuring Executor implements transport.Executor.
var _ transport.Executor = (*Executor)(nil)

// DefaultCursorTTL is the idle time after which a server cursor expires.
const DefaultCursorTTL = 30 * time.Second

// Config encapsulates the settings for the in-memory executor.
type Config struct {
	// The codec used for request and response bodies. Defaults to JSON.
	Codec codec.Codec

	// The clock used to expire idle cursors. Defaults to the wall clock.
	Clock clock.Clock

	// The idle time after which a cursor expires. Defaults to
	// DefaultCursorTTL.
	CursorTTL time.Duration
}

// collection holds the documents of a vertex or edge collection.
type collection struct {
	docs map[string]catalog.Entity

	// Keys in insertion order so traversals are deterministic.
	order []string
}

func (c *collection) put(key string, e catalog.Entity) {
	if _, exists := c.docs[key]; !exists {
		c.order = append(c.order, key)
	}
	c.docs[key] = e
}

func (c *collection) remove(key string) {
	if _, exists := c.docs[key]; !exists {
		return
	}
	delete(c.docs, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

type database struct {
	cat  *catalog.Catalog
	docs map[string]*collection
}

// collection returns the document store of a catalogued collection,
// creating it on first use.
func (d *database) collection(name string) *collection {
	c := d.docs[name]
	if c == nil {
		c = &collection{docs: make(map[string]catalog.Entity)}
		d.docs[name] = c
	}
	return c
}

// sweep discards the documents of dropped collections.
func (d *database) sweep() {
	for _, name := range d.cat.TakeDropped() {
		delete(d.docs, name)
	}
}

// Executor implements an in-memory graph server that can be concurrently
// accessed by multiple clients.
type Executor struct {
	codec codec.Codec
	clock clock.Clock
	ttl   time.Duration

	mu  sync.RWMutex
	dbs map[string]*database
	rev uint64

	cmu     sync.Mutex
	cursors map[string]*serverCursor
	fetches int
}

// NewExecutor creates a new in-memory executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.CursorTTL <= 0 {
		cfg.CursorTTL = DefaultCursorTTL
	}
	return &Executor{
		codec:   cfg.Codec,
		clock:   cfg.Clock,
		ttl:     cfg.CursorTTL,
		dbs:     make(map[string]*database),
		cursors: make(map[string]*serverCursor),
	}
}

// Codec returns the codec the executor speaks.
func (ex *Executor) Codec() codec.Codec { return ex.codec }

// HasCollection reports whether a collection physically exists.
func (ex *Executor) HasCollection(db, name string) bool {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	d := ex.dbs[db]
	if d == nil {
		return false
	}
	_, exists := d.cat.Collections[name]
	return exists
}

// nextRev returns a fresh revision token. Callers must hold the write lock.
func (ex *Executor) nextRev() string {
	ex.rev++
	return "_" + strconv.FormatUint(ex.rev, 36)
}

// database returns the named database, creating it on first use. Callers
// must hold the write lock.
func (ex *Executor) database(name string) *database {
	d := ex.dbs[name]
	if d == nil {
		d = &database{
			cat:  catalog.New(name, ex.nextRev),
			docs: make(map[string]*collection),
		}
		ex.dbs[name] = d
	}
	return d
}

// Execute implements transport.Executor.
func (ex *Executor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.Op {
	case transport.OpListGraphs:
		return ex.listGraphs(req)
	case transport.OpGetGraph:
		return ex.getGraph(req)
	case transport.OpCreateGraph:
		return ex.createGraph(req)
	case transport.OpDeleteGraph:
		return ex.deleteGraph(req)
	case transport.OpDropCollection:
		return ex.dropCollection(req)
	case transport.OpAddVertexCollection:
		return ex.addVertexCollection(req)
	case transport.OpRemoveVertexCollection:
		return ex.removeVertexCollection(req)
	case transport.OpAddEdgeDefinition:
		return ex.addEdgeDefinition(req)
	case transport.OpReplaceEdgeDefinition:
		return ex.replaceEdgeDefinition(req)
	case transport.OpRemoveEdgeDefinition:
		return ex.removeEdgeDefinition(req)
	case transport.OpCreateVertex, transport.OpCreateEdge:
		return ex.createEntity(req)
	case transport.OpGetVertex, transport.OpGetEdge:
		return ex.getEntity(req)
	case transport.OpReplaceVertex, transport.OpReplaceEdge, transport.OpUpdateVertex:
		return ex.writeEntity(req)
	case transport.OpDeleteVertex, transport.OpDeleteEdge:
		return ex.deleteEntity(req)
	default:
		return failure(transport.StatusBadRequest, "unsupported operation %q", req.Op), nil
	}
}

func failure(status transport.Status, format string, args ...interface{}) *transport.Response {
	return &transport.Response{Status: status, Message: fmt.Sprintf(format, args...)}
}

// rejected converts a catalog rejection into a response.
func rejected(err error) (*transport.Response, error) {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		return &transport.Response{Status: statusErr.Status, Message: statusErr.Message}, nil
	}
	return nil, err
}

func (ex *Executor) reply(status transport.Status, v interface{}) (*transport.Response, error) {
	body, err := ex.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &transport.Response{Status: status, Body: body}, nil
}

func (ex *Executor) replyGraph(status transport.Status, g *graph.Graph) (*transport.Response, error) {
	resp, err := ex.reply(status, g)
	if err != nil {
		return nil, err
	}
	resp.Revision = g.Revision
	return resp, nil
}

func (ex *Executor) listGraphs(req *transport.Request) (*transport.Response, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	list := transport.GraphList{Graphs: []*graph.Graph{}}
	if d := ex.dbs[req.Database]; d != nil {
		list.Graphs = append(list.Graphs, d.cat.List()...)
	}
	return ex.reply(transport.StatusOK, list)
}

func (ex *Executor) getGraph(req *transport.Request) (*transport.Response, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	d := ex.dbs[req.Database]
	if d == nil {
		return failure(transport.StatusNotFound, "graph %s/%s", req.Database, req.Graph), nil
	}
	g, err := d.cat.Graph(req.Graph)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusOK, g)
}

func (ex *Executor) createGraph(req *transport.Request) (*transport.Response, error) {
	var spec graph.Graph
	if err := ex.codec.Unmarshal(req.Body, &spec); err != nil {
		return failure(transport.StatusBadRequest, "malformed graph: %v", err), nil
	}
	if spec.Name == "" {
		spec.Name = req.Graph
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	g, err := ex.database(req.Database).cat.CreateGraph(&spec)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusCreated, g)
}

func (ex *Executor) deleteGraph(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	d := ex.database(req.Database)
	if err := d.cat.DeleteGraph(req.Graph, req.Param(transport.ParamDropCollections) == "true"); err != nil {
		return rejected(err)
	}
	d.sweep()
	return ex.reply(transport.StatusAccepted, map[string]bool{"removed": true})
}

func (ex *Executor) dropCollection(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	d := ex.database(req.Database)
	if err := d.cat.DropCollection(req.Collection); err != nil {
		return rejected(err)
	}
	d.sweep()
	return ex.reply(transport.StatusOK, map[string]bool{"dropped": true})
}

func (ex *Executor) addVertexCollection(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	g, err := ex.database(req.Database).cat.AddVertexCollection(req.Graph, req.Collection)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusAccepted, g)
}

func (ex *Executor) removeVertexCollection(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	d := ex.database(req.Database)
	g, err := d.cat.RemoveVertexCollection(req.Graph, req.Collection, req.Param(transport.ParamDropCollection) == "true")
	if err != nil {
		return rejected(err)
	}
	d.sweep()
	return ex.replyGraph(transport.StatusAccepted, g)
}

func (ex *Executor) decodeDefinition(req *transport.Request) (graph.EdgeDefinition, *transport.Response) {
	var def graph.EdgeDefinition
	if err := ex.codec.Unmarshal(req.Body, &def); err != nil {
		return def, failure(transport.StatusBadRequest, "malformed edge definition: %v", err)
	}
	if def.Collection == "" {
		def.Collection = req.Collection
	}
	return def, nil
}

func (ex *Executor) addEdgeDefinition(req *transport.Request) (*transport.Response, error) {
	def, bad := ex.decodeDefinition(req)
	if bad != nil {
		return bad, nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	g, err := ex.database(req.Database).cat.AddEdgeDefinition(req.Graph, def)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusAccepted, g)
}

func (ex *Executor) replaceEdgeDefinition(req *transport.Request) (*transport.Response, error) {
	def, bad := ex.decodeDefinition(req)
	if bad != nil {
		return bad, nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	g, _, err := ex.database(req.Database).cat.ReplaceEdgeDefinition(req.Graph, def)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusAccepted, g)
}

func (ex *Executor) removeEdgeDefinition(req *transport.Request) (*transport.Response, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	d := ex.database(req.Database)
	g, err := d.cat.RemoveEdgeDefinition(req.Graph, req.Collection, req.Param(transport.ParamDropCollection) == "true")
	if err != nil {
		return rejected(err)
	}
	d.sweep()
	return ex.replyGraph(transport.StatusAccepted, g)
}
