// Package schema keeps a read-through view of the graphs of each database
// together with a reverse index of which graphs use which edge definitions
// and collections. The server stays the source of truth: every mutation
// reconciles against a fresh listing before deciding anything, and the
// index only decides whether dropping a collection is safe.
package schema

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"sort"
	"sync"
	"time"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Remote is implemented by objects that can perform the raw schema calls
// against the server. Removal calls never drop collections; the registry
// issues DropCollection itself once it knows a drop is safe.
type Remote interface {
	ListGraphs(ctx context.Context, db string) ([]*graph.Graph, error)
	GetGraph(ctx context.Context, db, name string) (*graph.Graph, error)
	CreateGraph(ctx context.Context, g *graph.Graph, waitForSync bool) (*graph.Graph, error)
	DeleteGraph(ctx context.Context, db, name string) error
	AddVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error)
	RemoveVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error)
	AddEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error)
	ReplaceEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error)
	RemoveEdgeDefinition(ctx context.Context, db, graphName, name string) (*graph.Graph, error)
	DropCollection(ctx context.Context, db, collection string) error
}

// Registry tracks the graphs of each database and serializes schema
// mutations per edge definition and per collection.
type Registry struct {
	remote Remote
	logger *logrus.Entry
	locks  *keyedMutex
	group  singleflight.Group

	mu    sync.RWMutex
	dbs   map[string]*index
	stale map[string]bool
}

// NewRegistry creates a registry on top of remote. A nil logger discards
// log output.
func NewRegistry(remote Remote, logger *logrus.Entry) *Registry {
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = logrus.NewEntry(l)
	}
	return &Registry{
		remote: remote,
		logger: logger,
		locks:  newKeyedMutex(),
		dbs:    make(map[string]*index),
		stale:  make(map[string]bool),
	}
}

// rebuildTimeout bounds a shared listing. It runs detached from the
// callers waiting on it so that one caller giving up does not fail the
// others.
const rebuildTimeout = 30 * time.Second

// Rebuild replaces the cached index of db with one built from a fresh graph
// listing. Concurrent rebuilds of the same database share one listing; each
// caller stops waiting when its own context is done.
func (r *Registry) Rebuild(ctx context.Context, db string) error {
	ch := r.group.DoChan(db, func() (interface{}, error) {
		listCtx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		_, err := r.reconcile(listCtx, db)
		return nil, err
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("reconcile %s: %w", db, ctx.Err())
	}
}

// reconcile lists the graphs of db, installs the result as the cached index
// and returns a private copy for decision making.
func (r *Registry) reconcile(ctx context.Context, db string) (*index, error) {
	graphs, err := r.remote.ListGraphs(ctx, db)
	if err != nil {
		r.markStale(db)
		return nil, fmt.Errorf("reconcile %s: %w", db, err)
	}

	r.mu.Lock()
	r.dbs[db] = buildIndex(graphs)
	delete(r.stale, db)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"db": db, "graphs": len(graphs)}).Debug("rebuilt schema index")
	return buildIndex(graphs), nil
}

// Snapshot returns a copy of the cached reverse index of db.
func (r *Registry) Snapshot(db string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.dbs[db]
	if idx == nil {
		idx = newIndex()
	}
	snap := idx.snapshot()
	snap.Stale = r.stale[db]
	return snap
}

func (r *Registry) put(db string, g *graph.Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.dbs[db]
	if idx == nil {
		idx = newIndex()
		r.dbs[db] = idx
	}
	idx.put(g)
}

func (r *Registry) forget(db, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.dbs[db]; idx != nil {
		idx.remove(name)
	}
}

// invalidate drops the cached views of the named graphs and marks the
// database as stale until the next successful reconcile.
func (r *Registry) invalidate(db string, names ...string) {
	r.mu.Lock()
	if idx := r.dbs[db]; idx != nil {
		for _, name := range names {
			idx.remove(name)
		}
	}
	r.mu.Unlock()
	r.markStale(db)

	r.logger.WithFields(logrus.Fields{"db": db, "graphs": names}).Warn("invalidated cached graph views")
}

func (r *Registry) markStale(db string) {
	r.mu.Lock()
	r.stale[db] = true
	r.mu.Unlock()
}

// CreateGraph creates a graph and registers it.
func (r *Registry) CreateGraph(ctx context.Context, g *graph.Graph, waitForSync bool) (*graph.Graph, error) {
	keys := make([]string, 0, len(g.EdgeDefinitions)+len(g.OrphanCollections))
	for _, def := range g.EdgeDefinitions {
		keys = append(keys, definitionKey(g.Database, def.Collection))
	}
	for _, col := range g.Collections() {
		keys = append(keys, collectionKey(g.Database, col))
	}
	unlock := r.locks.Lock(keys...)
	defer unlock()

	created, err := r.remote.CreateGraph(ctx, g, waitForSync)
	if err != nil {
		return nil, fmt.Errorf("create graph %s: %w", g.Name, err)
	}
	r.put(g.Database, created)
	return created.Clone(), nil
}

// Graph fetches a graph from the server and refreshes its cached view.
func (r *Registry) Graph(ctx context.Context, db, name string) (*graph.Graph, error) {
	g, err := r.remote.GetGraph(ctx, db, name)
	if errors.Is(err, graph.ErrNotFound) {
		r.forget(db, name)
		return nil, err
	} else if err != nil {
		return nil, err
	}
	r.put(db, g)
	return g.Clone(), nil
}

// Graphs lists every graph of db, rebuilding the cached index.
func (r *Registry) Graphs(ctx context.Context, db string) ([]*graph.Graph, error) {
	if err := r.Rebuild(ctx, db); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.dbs[db]
	out := make([]*graph.Graph, 0, len(idx.graphs))
	for _, g := range idx.graphs {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GraphNames lists the names of every graph of db.
func (r *Registry) GraphNames(ctx context.Context, db string) ([]string, error) {
	graphs, err := r.Graphs(ctx, db)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(graphs))
	for i, g := range graphs {
		names[i] = g.Name
	}
	return names, nil
}

// VertexCollections lists the vertex collections of a graph.
func (r *Registry) VertexCollections(ctx context.Context, db, name string) ([]string, error) {
	g, err := r.Graph(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return g.VertexCollections(), nil
}

// EdgeCollections lists the edge collections of a graph.
func (r *Registry) EdgeCollections(ctx context.Context, db, name string) ([]string, error) {
	g, err := r.Graph(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return g.EdgeCollections(), nil
}

// CreateVertexCollection adds an orphan vertex collection to a graph.
func (r *Registry) CreateVertexCollection(ctx context.Context, db, graphName, collection string) (*graph.Graph, error) {
	unlock := r.locks.Lock(collectionKey(db, collection))
	defer unlock()

	updated, err := r.remote.AddVertexCollection(ctx, db, graphName, collection)
	if err != nil {
		r.invalidate(db, graphName)
		return nil, fmt.Errorf("create vertex collection %s: %w", collection, err)
	}
	r.put(db, updated)
	return updated.Clone(), nil
}

// CreateEdgeDefinition adds def to a graph. It fails with a
// *graph.DuplicateDefinitionError if the graph already has a definition of
// that name.
func (r *Registry) CreateEdgeDefinition(ctx context.Context, db, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	keys := []string{definitionKey(db, def.Collection), collectionKey(db, def.Collection)}
	for _, col := range def.VertexCollections() {
		keys = append(keys, collectionKey(db, col))
	}
	unlock := r.locks.Lock(keys...)
	defer unlock()

	current, err := r.Graph(ctx, db, graphName)
	if err != nil {
		return nil, fmt.Errorf("create edge definition %s: %w", def.Collection, err)
	}
	if _, exists := current.EdgeDefinition(def.Collection); exists {
		return nil, &graph.DuplicateDefinitionError{Database: db, Graph: graphName, Name: def.Collection}
	}

	updated, err := r.remote.AddEdgeDefinition(ctx, db, graphName, def)
	if err != nil {
		r.invalidate(db, graphName)
		return nil, fmt.Errorf("create edge definition %s: %w", def.Collection, err)
	}
	r.put(db, updated)
	return updated.Clone(), nil
}

// ReplaceEdgeDefinition replaces the named definition. The server applies
// the replacement to every graph using the definition; the registry then
// refreshes each of those graphs.
func (r *Registry) ReplaceEdgeDefinition(ctx context.Context, db, graphName, name string, def graph.EdgeDefinition) (*graph.Graph, error) {
	if def.Collection == "" {
		def.Collection = name
	} else if def.Collection != name {
		return nil, fmt.Errorf("replace edge definition %s: %w: definition names collection %q", name, graph.ErrInvalidArgument, def.Collection)
	}

	keys := []string{definitionKey(db, name), collectionKey(db, name)}
	for _, col := range def.VertexCollections() {
		keys = append(keys, collectionKey(db, col))
	}
	unlock := r.locks.Lock(keys...)
	defer unlock()

	fresh, err := r.reconcile(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("replace edge definition %s: %w", name, err)
	}
	affected := fresh.definitionUsers(name)

	updated, err := r.remote.ReplaceEdgeDefinition(ctx, db, graphName, def)
	if err != nil {
		r.invalidate(db, append(affected, graphName)...)
		return nil, fmt.Errorf("replace edge definition %s: %w", name, err)
	}
	r.put(db, updated)

	for _, other := range affected {
		if other == graphName {
			continue
		}
		g, err := r.remote.GetGraph(ctx, db, other)
		if err != nil {
			r.invalidate(db, other)
			continue
		}
		r.put(db, g)
	}

	r.logger.WithFields(logrus.Fields{
		"db":         db,
		"definition": name,
		"graphs":     affected,
	}).Info("replaced shared edge definition")
	return updated.Clone(), nil
}

// DeleteEdgeDefinition removes the named definition from a graph. With
// dropCollection set, the edge collection (and any vertex collection that
// left the graph) is dropped unless another graph still uses it.
func (r *Registry) DeleteEdgeDefinition(ctx context.Context, db, graphName, name string, dropCollection bool) (*graph.DropReport, error) {
	unlockDef := r.locks.Lock(definitionKey(db, name))
	defer unlockDef()

	before, err := r.Graph(ctx, db, graphName)
	if err != nil {
		return nil, fmt.Errorf("delete edge definition %s: %w", name, err)
	}
	def, ok := before.EdgeDefinition(name)
	if !ok {
		return nil, &graph.NotFoundError{Kind: "edge definition", Name: graph.Handle(graphName, name)}
	}

	keys := []string{collectionKey(db, name)}
	for _, col := range def.VertexCollections() {
		keys = append(keys, collectionKey(db, col))
	}
	unlockCols := r.locks.Lock(keys...)
	defer unlockCols()

	// Reference counts must come from a listing taken while holding the
	// collection keys.
	var fresh *index
	if dropCollection {
		fresh, _ = r.reconcile(ctx, db)
	}

	updated, err := r.remote.RemoveEdgeDefinition(ctx, db, graphName, name)
	if err != nil {
		r.invalidate(db, graphName)
		return nil, fmt.Errorf("delete edge definition %s: %w", name, err)
	}
	r.put(db, updated)

	report := &graph.DropReport{Graph: updated.Clone(), Failed: make(map[string]error)}
	if !dropCollection {
		return report, nil
	}

	candidates := []string{name}
	for _, col := range def.VertexCollections() {
		if !updated.References(col) {
			candidates = append(candidates, col)
		}
	}
	for _, col := range candidates {
		r.dropIfUnreferenced(ctx, db, graphName, col, fresh, report)
	}
	return report, nil
}

// DeleteVertexCollection removes a vertex collection from a graph. With
// dropCollection set, the collection is dropped unless another graph still
// uses it, in which case the call is downgraded to an unlink and the
// report carries a *graph.CollectionStillReferencedError.
func (r *Registry) DeleteVertexCollection(ctx context.Context, db, graphName, collection string, dropCollection bool) (*graph.DropReport, error) {
	unlock := r.locks.Lock(collectionKey(db, collection))
	defer unlock()

	var fresh *index
	if dropCollection {
		fresh, _ = r.reconcile(ctx, db)
	}

	updated, err := r.remote.RemoveVertexCollection(ctx, db, graphName, collection)
	if err != nil {
		r.invalidate(db, graphName)
		return nil, fmt.Errorf("delete vertex collection %s: %w", collection, err)
	}
	r.put(db, updated)

	report := &graph.DropReport{Graph: updated.Clone(), Failed: make(map[string]error)}
	if dropCollection {
		r.dropIfUnreferenced(ctx, db, graphName, collection, fresh, report)
	}
	return report, nil
}

// maxRelock bounds how often DeleteGraph widens its key set when the graph
// gains collections between the lookup and the reconcile.
const maxRelock = 3

// graphKeys returns the lock keys covering every definition and collection
// of g.
func graphKeys(db string, g *graph.Graph) []string {
	var keys []string
	for _, def := range g.EdgeDefinitions {
		keys = append(keys, definitionKey(db, def.Collection))
	}
	for _, col := range g.Collections() {
		keys = append(keys, collectionKey(db, col))
	}
	return keys
}

// DeleteGraph deletes a graph. With dropCollections set, each of its
// collections is dropped unless another graph still uses it. Drops are
// attempted one at a time; failures are reported without aborting.
func (r *Registry) DeleteGraph(ctx context.Context, db, graphName string, dropCollections bool) (*graph.DropReport, error) {
	before, err := r.Graph(ctx, db, graphName)
	if err != nil {
		return nil, fmt.Errorf("delete graph %s: %w", graphName, err)
	}

	locked := make(map[string]bool)
	keys := graphKeys(db, before)
	for _, key := range keys {
		locked[key] = true
	}
	unlock := r.locks.Lock(keys...)
	defer func() { unlock() }()

	var fresh *index
	for attempt := 0; dropCollections; attempt++ {
		if fresh, _ = r.reconcile(ctx, db); fresh == nil {
			break
		}
		current, ok := fresh.graphs[graphName]
		if !ok {
			break
		}
		before = current

		// Collections added since the lookup are unlocked; widen the key
		// set and look again.
		var grown []string
		for _, key := range graphKeys(db, current) {
			if !locked[key] {
				grown = append(grown, key)
			}
		}
		if len(grown) == 0 || attempt == maxRelock {
			break
		}
		unlock()
		for _, key := range grown {
			locked[key] = true
			keys = append(keys, key)
		}
		unlock = r.locks.Lock(keys...)
	}

	if err = r.remote.DeleteGraph(ctx, db, graphName); err != nil {
		r.invalidate(db, graphName)
		return nil, fmt.Errorf("delete graph %s: %w", graphName, err)
	}
	r.forget(db, graphName)

	report := &graph.DropReport{Failed: make(map[string]error)}
	if !dropCollections {
		return report, nil
	}
	for _, col := range before.Collections() {
		if !locked[collectionKey(db, col)] {
			r.keepUnknown(db, graphName, col, report)
			continue
		}
		r.dropIfUnreferenced(ctx, db, graphName, col, fresh, report)
	}
	return report, nil
}

// keepUnknown records that collection was kept because its references
// could not be determined.
func (r *Registry) keepUnknown(db, owner, collection string, report *graph.DropReport) {
	report.Retained = append(report.Retained, graph.Retention{
		Collection: collection,
		Reason:     fmt.Errorf("drop %s: %w", collection, graph.ErrReferencesUnknown),
	})
	r.logger.WithFields(logrus.Fields{"db": db, "graph": owner, "collection": collection}).Warn("kept collection; references unknown")
}

// dropIfUnreferenced drops collection unless a graph other than owner uses
// it according to fresh. A nil fresh index means the references are
// unknown and the collection is kept.
func (r *Registry) dropIfUnreferenced(ctx context.Context, db, owner, collection string, fresh *index, report *graph.DropReport) {
	if fresh == nil {
		r.keepUnknown(db, owner, collection, report)
		return
	}

	logger := r.logger.WithFields(logrus.Fields{"db": db, "graph": owner, "collection": collection})

	if users := fresh.collectionUsers(collection, owner); len(users) > 0 {
		report.Retained = append(report.Retained, graph.Retention{
			Collection: collection,
			Reason: &graph.CollectionStillReferencedError{
				Database:   db,
				Collection: collection,
				Graphs:     users,
			},
		})
		logger.WithField("users", users).Info("kept collection still used by other graphs")
		return
	}

	if err := r.remote.DropCollection(ctx, db, collection); err != nil {
		report.Failed[collection] = err
		logger.WithField("err", err).Warn("failed to drop collection")
		return
	}
	report.Dropped = append(report.Dropped, collection)
	logger.Info("dropped collection")
}
