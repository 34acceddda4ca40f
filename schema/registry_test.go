package schema

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(RegistryTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type RegistryTestSuite struct {
	remote *fakeRemote
	r      *Registry
}

func (s *RegistryTestSuite) SetUpTest(c *gc.C) {
	s.remote = newFakeRemote()
	s.r = NewRegistry(s.remote, nil)
}

func knows() graph.EdgeDefinition {
	return graph.EdgeDefinition{Collection: "knows", From: []string{"person"}, To: []string{"person"}}
}

func (s *RegistryTestSuite) mustCreate(c *gc.C, name string, defs []graph.EdgeDefinition, orphans ...string) {
	_, err := s.r.CreateGraph(context.TODO(), &graph.Graph{Database: "db", Name: name, EdgeDefinitions: defs, OrphanCollections: orphans}, true)
	c.Assert(err, gc.IsNil)
}

func (s *RegistryTestSuite) TestSnapshotMatchesRebuild(c *gc.C) {
	ctx := context.TODO()
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()})
	s.mustCreate(c, "b", []graph.EdgeDefinition{knows()}, "city")

	_, err := s.r.CreateVertexCollection(ctx, "db", "a", "tag")
	c.Assert(err, gc.IsNil)
	_, err = s.r.CreateEdgeDefinition(ctx, "db", "b", graph.EdgeDefinition{Collection: "livesIn", From: []string{"person"}, To: []string{"city"}})
	c.Assert(err, gc.IsNil)
	_, err = s.r.DeleteEdgeDefinition(ctx, "db", "a", "knows", false)
	c.Assert(err, gc.IsNil)

	incremental := s.r.Snapshot("db")
	c.Assert(incremental, gc.DeepEquals, Snapshot{
		Graphs: []string{"a", "b"},
		Definitions: map[string][]string{
			"knows":   {"b"},
			"livesIn": {"b"},
		},
		Collections: map[string][]string{
			"city":    {"b"},
			"knows":   {"b"},
			"livesIn": {"b"},
			"person":  {"a", "b"},
			"tag":     {"a"},
		},
	})

	fresh := NewRegistry(s.remote, nil)
	c.Assert(fresh.Rebuild(ctx, "db"), gc.IsNil)
	c.Assert(fresh.Snapshot("db"), gc.DeepEquals, incremental)
}

func (s *RegistryTestSuite) TestReplaceRefreshesEveryUser(c *gc.C) {
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()})
	s.mustCreate(c, "b", []graph.EdgeDefinition{knows()})

	replacement := graph.EdgeDefinition{From: []string{"robot"}, To: []string{"robot"}}
	g, err := s.r.ReplaceEdgeDefinition(context.TODO(), "db", "a", "knows", replacement)
	c.Assert(err, gc.IsNil)
	c.Assert(g.OrphanCollections, gc.DeepEquals, []string{"person"})

	snap := s.r.Snapshot("db")
	c.Assert(snap.Collections["robot"], gc.DeepEquals, []string{"a", "b"})
	c.Assert(snap.Definitions["knows"], gc.DeepEquals, []string{"a", "b"})

	_, err = s.r.ReplaceEdgeDefinition(context.TODO(), "db", "a", "knows", graph.EdgeDefinition{Collection: "other"})
	c.Assert(errors.Is(err, graph.ErrInvalidArgument), gc.Equals, true)
}

func (s *RegistryTestSuite) TestSharedCollectionIsRetained(c *gc.C) {
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()})
	s.mustCreate(c, "b", []graph.EdgeDefinition{knows()})

	report, err := s.r.DeleteEdgeDefinition(context.TODO(), "db", "a", "knows", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.HasLen, 0)
	c.Assert(report.Retained, gc.HasLen, 1)
	c.Assert(report.Retained[0].Collection, gc.Equals, "knows")

	var refErr *graph.CollectionStillReferencedError
	c.Assert(errors.As(report.Retained[0].Reason, &refErr), gc.Equals, true)
	c.Assert(refErr.Graphs, gc.DeepEquals, []string{"b"})
	c.Assert(s.remote.dropped(), gc.HasLen, 0)
}

func (s *RegistryTestSuite) TestUnknownReferencesKeepCollections(c *gc.C) {
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()}, "own")
	s.remote.setListErr(errors.New("connection reset"))

	report, err := s.r.DeleteGraph(context.TODO(), "db", "a", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.HasLen, 0)
	c.Assert(report.Retained, gc.HasLen, 3)
	for _, ret := range report.Retained {
		c.Assert(errors.Is(ret.Reason, graph.ErrReferencesUnknown), gc.Equals, true, gc.Commentf("collection %s", ret.Collection))
	}
	c.Assert(s.remote.dropped(), gc.HasLen, 0)
	c.Assert(s.r.Snapshot("db").Stale, gc.Equals, true)

	s.remote.setListErr(nil)
	c.Assert(s.r.Rebuild(context.TODO(), "db"), gc.IsNil)
	c.Assert(s.r.Snapshot("db").Stale, gc.Equals, false)
}

func (s *RegistryTestSuite) TestDropFailureIsReported(c *gc.C) {
	s.mustCreate(c, "a", nil, "own", "spare")
	s.remote.failDrop("own", errors.New("disk full"))

	report, err := s.r.DeleteGraph(context.TODO(), "db", "a", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.DeepEquals, []string{"spare"})
	c.Assert(report.Failed, gc.HasLen, 1)
	c.Assert(report.Failed["own"], gc.ErrorMatches, "disk full")
	c.Assert(report.Err(), gc.NotNil)
}

func (s *RegistryTestSuite) TestDuplicateDefinitionSendsNothing(c *gc.C) {
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()})

	_, err := s.r.CreateEdgeDefinition(context.TODO(), "db", "a", knows())
	c.Assert(errors.Is(err, graph.ErrDuplicateDefinitionName), gc.Equals, true)
	c.Assert(s.remote.count("addEdgeDefinition"), gc.Equals, 0)
}

func (s *RegistryTestSuite) TestMissingGraph(c *gc.C) {
	_, err := s.r.Graph(context.TODO(), "db", "nope")
	c.Assert(errors.Is(err, graph.ErrNotFound), gc.Equals, true)

	_, err = s.r.DeleteGraph(context.TODO(), "db", "nope", true)
	c.Assert(errors.Is(err, graph.ErrNotFound), gc.Equals, true)
}

func (s *RegistryTestSuite) TestDeleteGraphLocksCollectionsAddedMeanwhile(c *gc.C) {
	ctx := context.TODO()
	s.mustCreate(c, "g", nil, "gonly")
	s.mustCreate(c, "h", nil, "honly")

	// g gains a collection after the registry looked it up.
	s.remote.setHook("listGraphs", func() {
		c.Check(s.remote.addToGraph("g", "tag"), gc.IsNil)
	})

	linked := make(chan error, 1)
	s.remote.setHook("deleteGraph", func() {
		go func() {
			_, err := s.r.CreateVertexCollection(ctx, "db", "h", "tag")
			linked <- err
		}()

		unrelated := make(chan error, 1)
		go func() {
			_, err := s.r.CreateVertexCollection(ctx, "db", "h", "spare")
			unrelated <- err
		}()
		select {
		case err := <-unrelated:
			c.Check(err, gc.IsNil)
		case <-time.After(5 * time.Second):
			c.Error("timed out waiting for an unrelated collection")
		}

		select {
		case <-linked:
			c.Error("linked a collection while it was being dropped")
		case <-time.After(50 * time.Millisecond):
		}
	})

	report, err := s.r.DeleteGraph(ctx, "db", "g", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.DeepEquals, []string{"gonly", "tag"})
	c.Assert(report.Retained, gc.HasLen, 0)

	select {
	case err = <-linked:
		c.Assert(err, gc.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for the blocked call")
	}
	c.Assert(s.remote.unsafeDrops(), gc.HasLen, 0)

	h, err := s.r.Graph(ctx, "db", "h")
	c.Assert(err, gc.IsNil)
	c.Assert(h.VertexCollections(), gc.DeepEquals, []string{"honly", "spare", "tag"})
}

func (s *RegistryTestSuite) TestReplaceAndDeleteOfSameDefinitionAreSerialized(c *gc.C) {
	ctx := context.TODO()
	s.mustCreate(c, "a", []graph.EdgeDefinition{knows()})
	s.mustCreate(c, "b", []graph.EdgeDefinition{knows()})

	type result struct {
		report *graph.DropReport
		err    error
	}
	removed := make(chan result, 1)
	s.remote.setHook("replaceEdgeDefinition", func() {
		go func() {
			report, err := s.r.DeleteEdgeDefinition(ctx, "db", "b", "knows", true)
			removed <- result{report, err}
		}()

		select {
		case <-removed:
			c.Error("removed a definition while it was being replaced")
		case <-time.After(50 * time.Millisecond):
		}
	})

	replacement := graph.EdgeDefinition{From: []string{"robot"}, To: []string{"robot"}}
	_, err := s.r.ReplaceEdgeDefinition(ctx, "db", "a", "knows", replacement)
	c.Assert(err, gc.IsNil)

	var res result
	select {
	case res = <-removed:
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for the blocked call")
	}
	c.Assert(res.err, gc.IsNil)

	// The removal saw the replaced definition; robot stays in b as an
	// orphan and knows is still used by a.
	c.Assert(res.report.Dropped, gc.HasLen, 0)
	c.Assert(res.report.Retained, gc.HasLen, 1)
	c.Assert(res.report.Retained[0].Collection, gc.Equals, "knows")
	c.Assert(errors.Is(res.report.Retained[0].Reason, graph.ErrCollectionStillReferenced), gc.Equals, true)
	c.Assert(res.report.Graph.OrphanCollections, gc.DeepEquals, []string{"person", "robot"})
	c.Assert(s.remote.unsafeDrops(), gc.HasLen, 0)
}

func (s *RegistryTestSuite) TestCancelledRebuildLeavesOtherWaiters(c *gc.C) {
	s.mustCreate(c, "a", nil, "own")

	entered := make(chan struct{})
	proceed := make(chan struct{})
	s.remote.setHook("listGraphs", func() {
		close(entered)
		<-proceed
	})

	ctx, cancel := context.WithCancel(context.TODO())
	first := make(chan error, 1)
	go func() { first <- s.r.Rebuild(ctx, "db") }()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for the listing")
	}

	second := make(chan error, 1)
	go func() { second <- s.r.Rebuild(context.TODO(), "db") }()

	cancel()
	select {
	case err := <-first:
		c.Assert(errors.Is(err, context.Canceled), gc.Equals, true, gc.Commentf("got %v", err))
	case <-time.After(5 * time.Second):
		c.Fatal("cancelled rebuild did not return")
	}

	close(proceed)
	select {
	case err := <-second:
		c.Assert(err, gc.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for the shared rebuild")
	}

	snap := s.r.Snapshot("db")
	c.Assert(snap.Stale, gc.Equals, false)
	c.Assert(snap.Graphs, gc.DeepEquals, []string{"a"})
}

func (s *RegistryTestSuite) TestKeyedMutexSerializesSameKey(c *gc.C) {
	km := newKeyedMutex()
	unlock := km.Lock(collectionKey("db", "a"), definitionKey("db", "x"))

	acquired := make(chan struct{})
	go func() {
		release := km.Lock(collectionKey("db", "a"))
		release()
		close(acquired)
	}()

	// Unrelated keys are not blocked.
	other := make(chan struct{})
	go func() {
		release := km.Lock(collectionKey("db", "b"))
		release()
		close(other)
	}()

	select {
	case <-other:
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for an unrelated key")
	}
	select {
	case <-acquired:
		c.Fatal("acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for a released key")
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	c.Assert(km.locks, gc.HasLen, 0)
}

// fakeRemote emulates the schema endpoints of the server.
type fakeRemote struct {
	mu       sync.Mutex
	cat      *catalog.Catalog
	rev      int
	listErr  error
	dropErrs map[string]error
	drops    []string
	calls    map[string]int

	// hooks run once, before the named call touches the catalog.
	hooks map[string]func()

	// unsafe records drops of collections some graph still listed.
	unsafe []string
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{dropErrs: make(map[string]error), calls: make(map[string]int), hooks: make(map[string]func())}
	f.cat = catalog.New("db", func() string {
		f.rev++
		return strconv.Itoa(f.rev)
	})
	return f
}

func (f *fakeRemote) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) failDrop(collection string, err error) {
	f.mu.Lock()
	f.dropErrs[collection] = err
	f.mu.Unlock()
}

func (f *fakeRemote) setHook(op string, fn func()) {
	f.mu.Lock()
	f.hooks[op] = fn
	f.mu.Unlock()
}

func (f *fakeRemote) runHook(op string) {
	f.mu.Lock()
	fn := f.hooks[op]
	delete(f.hooks, op)
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// addToGraph links a collection the way another client would, bypassing
// the registry.
func (f *fakeRemote) addToGraph(graphName, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.cat.AddVertexCollection(graphName, collection)
	return err
}

func (f *fakeRemote) unsafeDrops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsafe...)
}

func (f *fakeRemote) dropped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.drops...)
}

func (f *fakeRemote) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// do runs fn against the catalog and clones the resulting graph.
func (f *fakeRemote) do(op string, fn func() (*graph.Graph, error)) (*graph.Graph, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	g, err := fn()
	if err != nil {
		return nil, transport.Classify(op, err)
	}
	return g.Clone(), nil
}

func (f *fakeRemote) ListGraphs(_ context.Context, _ string) ([]*graph.Graph, error) {
	f.runHook("listGraphs")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*graph.Graph
	for _, g := range f.cat.List() {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (f *fakeRemote) GetGraph(_ context.Context, _, name string) (*graph.Graph, error) {
	return f.do("getGraph", func() (*graph.Graph, error) { return f.cat.Graph(name) })
}

func (f *fakeRemote) CreateGraph(_ context.Context, g *graph.Graph, _ bool) (*graph.Graph, error) {
	return f.do("createGraph", func() (*graph.Graph, error) { return f.cat.CreateGraph(g) })
}

func (f *fakeRemote) DeleteGraph(_ context.Context, _, name string) error {
	f.runHook("deleteGraph")
	_, err := f.do("deleteGraph", func() (*graph.Graph, error) { return nil, f.cat.DeleteGraph(name, false) })
	return err
}

func (f *fakeRemote) AddVertexCollection(_ context.Context, _, graphName, collection string) (*graph.Graph, error) {
	return f.do("addVertexCollection", func() (*graph.Graph, error) { return f.cat.AddVertexCollection(graphName, collection) })
}

func (f *fakeRemote) RemoveVertexCollection(_ context.Context, _, graphName, collection string) (*graph.Graph, error) {
	return f.do("removeVertexCollection", func() (*graph.Graph, error) { return f.cat.RemoveVertexCollection(graphName, collection, false) })
}

func (f *fakeRemote) AddEdgeDefinition(_ context.Context, _, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	return f.do("addEdgeDefinition", func() (*graph.Graph, error) { return f.cat.AddEdgeDefinition(graphName, def) })
}

func (f *fakeRemote) ReplaceEdgeDefinition(_ context.Context, _, graphName string, def graph.EdgeDefinition) (*graph.Graph, error) {
	f.runHook("replaceEdgeDefinition")
	return f.do("replaceEdgeDefinition", func() (*graph.Graph, error) {
		g, _, err := f.cat.ReplaceEdgeDefinition(graphName, def)
		return g, err
	})
}

func (f *fakeRemote) RemoveEdgeDefinition(_ context.Context, _, graphName, name string) (*graph.Graph, error) {
	return f.do("removeEdgeDefinition", func() (*graph.Graph, error) { return f.cat.RemoveEdgeDefinition(graphName, name, false) })
}

func (f *fakeRemote) DropCollection(_ context.Context, _, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dropErrs[collection]; err != nil {
		return err
	}
	if users := f.cat.Users(collection); len(users) > 0 {
		f.unsafe = append(f.unsafe, collection)
	}
	if err := f.cat.DropCollection(collection); err != nil {
		return transport.Classify("dropCollection", err)
	}
	f.drops = append(f.drops, collection)
	return nil
}
