package driver_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/driver"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/inmem"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/ejacobg/graphdriver/transport/mocks"
	"github.com/golang/mock/gomock"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(DriverTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type DriverTestSuite struct {
	ctrl *gomock.Controller
	exec *mocks.MockExecutor
	d    *driver.Driver
}

func (s *DriverTestSuite) SetUpTest(c *gc.C) {
	s.ctrl = gomock.NewController(c)
	s.exec = mocks.NewMockExecutor(s.ctrl)

	var err error
	s.d, err = driver.New(driver.Config{Executor: s.exec, Codec: codec.JSON})
	c.Assert(err, gc.IsNil)
}

func (s *DriverTestSuite) TearDownTest(c *gc.C) {
	s.ctrl.Finish()
}

func (s *DriverTestSuite) TestConfigValidation(c *gc.C) {
	_, err := driver.New(driver.Config{})
	c.Assert(err, gc.ErrorMatches, "(?s).*transport executor has not been provided.*")

	_, err = driver.New(driver.Config{Executor: s.exec, BatchSize: -1})
	c.Assert(err, gc.ErrorMatches, "(?s).*invalid value for batch size.*")
}

func (s *DriverTestSuite) TestLocalChecksSendNothing(c *gc.C) {
	// The mock has no expectations: any executor call fails the test.
	ctx := context.TODO()
	checks := []func() error{
		func() error { _, err := s.d.CreateGraph(ctx, "", "g", nil, nil, false); return err },
		func() error { _, err := s.d.Graph(ctx, "db", ""); return err },
		func() error { _, err := s.d.CreateVertex(ctx, "db", "g", "", nil, false); return err },
		func() error { _, err := s.d.Vertex(ctx, "db", "g", "person", "", graph.ReadOptions{}); return err },
		func() error {
			_, err := s.d.CreateEdge(ctx, "db", "g", "knows", "", "no-slash", "person/b", nil, false)
			return err
		},
		func() error { _, err := s.d.EdgeByHandle(ctx, "db", "g", "knows", graph.ReadOptions{}); return err },
		func() error {
			_, err := s.d.CreateEdgeDefinition(ctx, "db", "g", graph.EdgeDefinition{From: []string{"a"}, To: []string{"a"}})
			return err
		},
		func() error {
			_, err := s.d.Vertices(ctx, "db", "g", graph.TraversalQuery{StartVertex: "no-slash"})
			return err
		},
		func() error {
			_, err := s.d.EdgeResultSet(ctx, "db", "g", graph.TraversalQuery{StartVertex: "person/a", Direction: "sideways"})
			return err
		},
	}
	for i, check := range checks {
		err := check()
		c.Check(errors.Is(err, graph.ErrInvalidArgument), gc.Equals, true, gc.Commentf("check %d: %v", i, err))
	}
}

func (s *DriverTestSuite) TestTransportFailure(c *gc.C) {
	cause := errors.New("connection refused")
	s.exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(nil, cause)

	_, err := s.d.Vertex(context.TODO(), "db", "g", "person", "a", graph.ReadOptions{})
	c.Assert(errors.Is(err, graph.ErrTransportFailure), gc.Equals, true)
	c.Assert(errors.Is(err, cause), gc.Equals, true)
}

func (s *DriverTestSuite) TestCreateVertexEcho(c *gc.C) {
	s.exec.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			c.Check(req.Op, gc.Equals, transport.OpCreateVertex)
			c.Check(req.Database, gc.Equals, "db")
			c.Check(req.Graph, gc.Equals, "social")
			c.Check(req.Collection, gc.Equals, "person")
			c.Check(req.Param(transport.ParamWaitForSync), gc.Equals, "true")
			c.Check(string(req.Body), gc.Equals, `{"name":"ann"}`)
			return &transport.Response{
				Status:   transport.StatusCreated,
				Body:     []byte(`{"_key":"k1","_id":"person/k1","_rev":"r1","name":"ann"}`),
				Revision: "r1",
			}, nil
		},
	)

	doc, err := s.d.CreateVertex(context.TODO(), "db", "social", "person", map[string]string{"name": "ann"}, true)
	c.Assert(err, gc.IsNil)
	c.Assert(doc.Key, gc.Equals, "k1")
	c.Assert(doc.ID, gc.Equals, "person/k1")
	c.Assert(doc.Rev, gc.Equals, "r1")

	var got map[string]interface{}
	c.Assert(doc.Decode(&got), gc.IsNil)
	c.Assert(got["name"], gc.Equals, "ann")
}

func (s *DriverTestSuite) TestPreconditionHeaders(c *gc.C) {
	s.exec.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *transport.Request) (*transport.Response, error) {
			c.Check(req.Header[transport.HeaderIfMatch], gc.Equals, "r1")
			c.Check(req.Header[transport.HeaderReadRevision], gc.Equals, "r0")
			_, hasNoneMatch := req.Header[transport.HeaderIfNoneMatch]
			c.Check(hasNoneMatch, gc.Equals, false)
			return &transport.Response{Status: transport.StatusPreconditionFailed, Revision: "r2"}, nil
		},
	)

	_, err := s.d.ReplaceVertex(context.TODO(), "db", "g", "person", "a", map[string]int{"age": 1}, graph.WriteOptions{
		Rev:       "r0",
		Condition: graph.IfMatch("r1"),
	})
	var mismatch *graph.RevisionMismatchError
	c.Assert(errors.As(err, &mismatch), gc.Equals, true)
	c.Assert(mismatch.Current, gc.Equals, "r2")
	c.Assert(mismatch.Handle, gc.Equals, "person/a")
	c.Assert(errors.Is(err, graph.ErrRevisionMismatch), gc.Equals, true)
}

func (s *DriverTestSuite) TestServerStatusMapping(c *gc.C) {
	specs := []struct {
		status transport.Status
		want   error
	}{
		{transport.StatusNotFound, graph.ErrNotFound},
		{transport.StatusBadRequest, graph.ErrInvalidArgument},
		{transport.StatusServerError, graph.ErrServer},
		{transport.StatusConflict, graph.ErrServer},
	}
	for _, spec := range specs {
		s.exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&transport.Response{Status: spec.status, Message: "boom"}, nil)
		_, err := s.d.DeleteEdge(context.TODO(), "db", "g", "knows", "e1", graph.WriteOptions{})
		c.Check(errors.Is(err, spec.want), gc.Equals, true, gc.Commentf("status %s: %v", spec.status, err))
	}
}

func (s *DriverTestSuite) TestRemovalNeverDropsServerSide(c *gc.C) {
	ex := newRecordingExecutor()
	d, err := driver.New(driver.Config{Executor: ex, Codec: ex.Codec()})
	c.Assert(err, gc.IsNil)
	ctx := context.TODO()

	def := graph.EdgeDefinition{Collection: "knows", From: []string{"person"}, To: []string{"person"}}
	_, err = d.CreateGraph(ctx, "db", "g", []graph.EdgeDefinition{def}, []string{"city"}, true)
	c.Assert(err, gc.IsNil)

	report, err := d.DeleteVertexCollection(ctx, "db", "g", "city", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.DeepEquals, []string{"city"})

	report, err = d.DeleteEdgeDefinition(ctx, "db", "g", "knows", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.DeepEquals, []string{"knows"})

	_, err = d.DeleteGraph(ctx, "db", "g", true)
	c.Assert(err, gc.IsNil)

	for _, req := range ex.removals() {
		for _, name := range []string{transport.ParamDropCollection, transport.ParamDropCollections} {
			c.Check(req.Param(name), gc.Not(gc.Equals), "true", gc.Commentf("%s sent %s=true", req.Op, name))
		}
	}
}

func (s *DriverTestSuite) TestDeleteGraphPartialFailure(c *gc.C) {
	ex := newRecordingExecutor()
	ex.failDrop = "own"
	d, err := driver.New(driver.Config{Executor: ex, Codec: ex.Codec()})
	c.Assert(err, gc.IsNil)
	ctx := context.TODO()

	_, err = d.CreateGraph(ctx, "db", "a", nil, []string{"own", "shared", "spare"}, true)
	c.Assert(err, gc.IsNil)
	_, err = d.CreateGraph(ctx, "db", "b", nil, []string{"shared"}, true)
	c.Assert(err, gc.IsNil)

	report, err := d.DeleteGraph(ctx, "db", "a", true)
	c.Assert(err, gc.IsNil)
	c.Assert(report.Dropped, gc.DeepEquals, []string{"spare"})
	c.Assert(report.Retains("shared"), gc.Equals, true)
	c.Assert(report.Failed, gc.HasLen, 1)
	c.Assert(errors.Is(report.Failed["own"], graph.ErrServer), gc.Equals, true)
	c.Assert(report.Err(), gc.NotNil)

	names, err := d.GraphNames(ctx, "db")
	c.Assert(err, gc.IsNil)
	c.Assert(names, gc.DeepEquals, []string{"b"})
	c.Assert(ex.HasCollection("db", "own"), gc.Equals, true)
	c.Assert(ex.HasCollection("db", "spare"), gc.Equals, false)
}

// recordingExecutor wraps the in-memory executor, records removal requests
// and can refuse to drop one collection.
type recordingExecutor struct {
	*inmem.Executor

	failDrop string

	mu   sync.Mutex
	reqs []*transport.Request
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{Executor: inmem.NewExecutor(inmem.Config{})}
}

func (r *recordingExecutor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	switch req.Op {
	case transport.OpDeleteGraph, transport.OpRemoveVertexCollection, transport.OpRemoveEdgeDefinition:
		r.mu.Lock()
		r.reqs = append(r.reqs, req)
		r.mu.Unlock()
	case transport.OpDropCollection:
		if req.Collection == r.failDrop {
			return &transport.Response{Status: transport.StatusServerError, Message: "drop refused"}, nil
		}
	}
	return r.Executor.Execute(ctx, req)
}

func (r *recordingExecutor) removals() []*transport.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*transport.Request(nil), r.reqs...)
}
