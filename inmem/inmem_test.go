package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/driver"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/graph/graphtest"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/juju/clock/testclock"
)

func newDriver(t *testing.T, ex *Executor) *driver.Driver {
	t.Helper()
	d, err := driver.New(driver.Config{Executor: ex, Codec: ex.Codec()})
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}
	return d
}

func TestAcceptanceJSON(t *testing.T) {
	suite := graphtest.Suite{D: newDriver(t, NewExecutor(Config{Codec: codec.JSON}))}
	suite.TestDriver(t)
}

func TestAcceptanceMsgPack(t *testing.T) {
	suite := graphtest.Suite{D: newDriver(t, NewExecutor(Config{Codec: codec.MsgPack}))}
	suite.TestDriver(t)
}

func seedNeighbours(t *testing.T, d graph.Driver, n int) string {
	t.Helper()
	ctx := context.TODO()
	def := graph.EdgeDefinition{Collection: "knows", From: []string{"person"}, To: []string{"person"}}
	if _, err := d.CreateGraph(ctx, "db", "social", []graph.EdgeDefinition{def}, nil, true); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	start, err := d.CreateVertex(ctx, "db", "social", "person", map[string]string{"name": "start"}, true)
	if err != nil {
		t.Fatalf("failed to create vertex: %v", err)
	}
	for i := 0; i < n; i++ {
		v, err := d.CreateVertex(ctx, "db", "social", "person", map[string]int{"n": i}, true)
		if err != nil {
			t.Fatalf("failed to create vertex: %v", err)
		}
		if _, err = d.CreateEdge(ctx, "db", "social", "knows", "", start.ID, v.ID, nil, true); err != nil {
			t.Fatalf("failed to create edge: %v", err)
		}
	}
	return start.ID
}

func TestIdleCursorExpires(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	ex := NewExecutor(Config{Clock: clk, CursorTTL: time.Minute})
	d := newDriver(t, ex)
	start := seedNeighbours(t, d, 3)

	it, err := d.VertexResultSet(context.TODO(), "db", "social", graph.TraversalQuery{StartVertex: start, BatchSize: 1})
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if !it.Next(context.TODO()) {
		t.Fatalf("expected a first vertex; got error %v", it.Error())
	}

	clk.Advance(2 * time.Minute)
	if it.Next(context.TODO()) {
		t.Fatalf("expected the expired cursor to fail")
	}
	if err = it.Error(); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected expiry to surface as ErrNotFound; got %v", err)
	}
	if err = it.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if got := ex.OpenCursors(); got != 0 {
		t.Errorf("expected no open cursors; got %d", got)
	}
}

func TestActiveCursorSurvives(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	ex := NewExecutor(Config{Clock: clk, CursorTTL: time.Minute})
	d := newDriver(t, ex)
	start := seedNeighbours(t, d, 3)

	it, err := d.VertexResultSet(context.TODO(), "db", "social", graph.TraversalQuery{StartVertex: start, BatchSize: 1})
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	defer func() { _ = it.Close() }()

	var seen int
	for it.Next(context.TODO()) {
		seen++
		clk.Advance(50 * time.Second)
	}
	if err = it.Error(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 3 {
		t.Errorf("expected 3 vertices; got %d", seen)
	}
}

func TestLimitReleasesCursor(t *testing.T) {
	ex := NewExecutor(Config{})
	d := newDriver(t, ex)
	start := seedNeighbours(t, d, 5)

	res, err := d.Vertices(context.TODO(), "db", "social", graph.TraversalQuery{StartVertex: start, BatchSize: 1, Limit: 2})
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if len(res.Vertices) != 2 {
		t.Errorf("expected 2 vertices; got %d", len(res.Vertices))
	}
	if got := ex.Fetches(); got != 1 {
		t.Errorf("expected a single batch fetch after the initial query; got %d", got)
	}
	if got := ex.OpenCursors(); got != 0 {
		t.Errorf("expected the cursor to be released; got %d open", got)
	}
}

func TestEarlyCloseReleasesCursor(t *testing.T) {
	ex := NewExecutor(Config{})
	d := newDriver(t, ex)
	start := seedNeighbours(t, d, 4)

	it, err := d.EdgeResultSet(context.TODO(), "db", "social", graph.TraversalQuery{StartVertex: start, BatchSize: 2})
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if got := ex.OpenCursors(); got != 1 {
		t.Fatalf("expected one open cursor; got %d", got)
	}
	if err = it.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := ex.OpenCursors(); got != 0 {
		t.Errorf("expected the cursor to be released; got %d open", got)
	}
}

func TestDropRemovesCollection(t *testing.T) {
	ex := NewExecutor(Config{})
	d := newDriver(t, ex)
	ctx := context.TODO()

	if _, err := d.CreateGraph(ctx, "db", "a", nil, []string{"own", "shared"}, true); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	if _, err := d.CreateGraph(ctx, "db", "b", nil, []string{"shared"}, true); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}

	report, err := d.DeleteGraph(ctx, "db", "a", true)
	if err != nil {
		t.Fatalf("failed to delete graph: %v", err)
	}
	if !report.Retains("shared") {
		t.Errorf("expected shared to be retained; got %+v", report)
	}
	if ex.HasCollection("db", "own") {
		t.Errorf("expected own to be dropped")
	}
	if !ex.HasCollection("db", "shared") {
		t.Errorf("expected shared to survive")
	}
}

func TestUnknownDirectionIsRejected(t *testing.T) {
	ex := NewExecutor(Config{})
	start := seedNeighbours(t, newDriver(t, ex), 1)

	_, err := ex.Query(context.TODO(), &transport.Query{
		Database:  "db",
		Graph:     "social",
		Target:    transport.TargetVertices,
		Traversal: graph.TraversalQuery{StartVertex: start, Direction: "sideways"},
	})
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != transport.StatusBadRequest {
		t.Fatalf("expected a bad request status; got %v", err)
	}
	if n := ex.OpenCursors(); n != 0 {
		t.Errorf("expected no open cursors; got %d", n)
	}
}
