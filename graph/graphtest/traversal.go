package graphtest

import (
	"context"
	"errors"
	"testing"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/google/go-cmp/cmp"
)

// buildNetwork creates the graph
//
//	a -friend-> b, a -colleague-> c, e -friend-> a, b -friend-> c
//
// and returns the handle of a.
func buildNetwork(t *testing.T, d graph.Driver, db string) string {
	t.Helper()
	mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, nil)

	ages := []struct {
		key string
		age int
	}{{"a", 20}, {"b", 25}, {"c", 35}, {"e", 40}}
	for _, v := range ages {
		mustCreateVertex(t, d, db, "social", v.key, v.age)
	}

	edges := []struct{ key, from, to, label string }{
		{"ab", "a", "b", "friend"},
		{"ac", "a", "c", "colleague"},
		{"ea", "e", "a", "friend"},
		{"bc", "b", "c", "friend"},
	}
	for _, e := range edges {
		_, err := d.CreateEdge(context.TODO(), db, "social", "knows", e.key,
			graph.Handle("person", e.from), graph.Handle("person", e.to), relation{Label: e.label}, true)
		if err != nil {
			t.Fatalf("failed to create edge %s: %v", e.key, err)
		}
	}
	return graph.Handle("person", "a")
}

func vertexIDs(docs []*graph.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

func edgeIDs(edges []*graph.Edge) []string {
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ID)
	}
	return ids
}

func drainVertices(t *testing.T, it graph.VertexIterator) []string {
	t.Helper()
	var ids []string
	for it.Next(context.TODO()) {
		ids = append(ids, it.Vertex().ID)
	}
	if err := it.Error(); err != nil {
		t.Fatalf("unexpected iterator error: %v", err)
	}
	return ids
}

// TestTraversalFilters verifies that direction, labels and filters shape the
// result and that server order is preserved.
func TestTraversalFilters(t *testing.T, d graph.Driver, db string) {
	start := buildNetwork(t, d, db)

	specs := []struct {
		descr string
		q     graph.TraversalQuery
		want  []string
	}{
		{"outbound", graph.TraversalQuery{Direction: graph.Outbound}, []string{"person/b", "person/c"}},
		{"inbound", graph.TraversalQuery{Direction: graph.Inbound}, []string{"person/e"}},
		{"any", graph.TraversalQuery{Direction: graph.Any}, []string{"person/b", "person/c", "person/e"}},
		{"labels", graph.TraversalQuery{Labels: []string{"friend"}}, []string{"person/b", "person/e"}},
		{"filters", graph.TraversalQuery{Filters: []graph.Filter{{Property: "age", Operator: ">=", Value: 30}}}, []string{"person/c", "person/e"}},
	}

	for _, spec := range specs {
		spec.q.StartVertex = start
		res, err := d.Vertices(context.TODO(), db, "social", spec.q)
		if err != nil {
			t.Fatalf("[%s] traversal failed: %v", spec.descr, err)
		}
		if diff := cmp.Diff(spec.want, vertexIDs(res.Vertices)); diff != "" {
			t.Errorf("[%s] vertices mismatch (-want +got):\n%s", spec.descr, diff)
		}
	}

	edges, err := d.Edges(context.TODO(), db, "social", graph.TraversalQuery{StartVertex: start})
	if err != nil {
		t.Fatalf("edge traversal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"knows/ab", "knows/ac", "knows/ea"}, edgeIDs(edges.Edges)); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if edges.Edges[2].From != "person/e" || edges.Edges[2].Label != "friend" {
		t.Errorf("unexpected edge metadata: %+v", edges.Edges[2])
	}

	_, err = d.Vertices(context.TODO(), db, "social", graph.TraversalQuery{StartVertex: "person/missing"})
	if !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing start vertex; got %v", err)
	}
}

// TestEagerLazyEquivalence verifies that both consumption modes yield
// identical sequences for identical parameters.
func TestEagerLazyEquivalence(t *testing.T, d graph.Driver, db string) {
	start := buildNetwork(t, d, db)
	ctx := context.TODO()

	queries := []graph.TraversalQuery{
		{Direction: graph.Any, BatchSize: 1},
		{Direction: graph.Any, BatchSize: 2},
		{Direction: graph.Outbound, BatchSize: 1, Labels: []string{"friend", "colleague"}},
		{Direction: graph.Any, BatchSize: 1, Filters: []graph.Filter{{Property: "name", Operator: "!=", Value: "b"}}},
	}
	for i, q := range queries {
		q.StartVertex = start

		eager, err := d.Vertices(ctx, db, "social", q)
		if err != nil {
			t.Fatalf("[query %d] eager traversal failed: %v", i, err)
		}
		it, err := d.VertexResultSet(ctx, db, "social", q)
		if err != nil {
			t.Fatalf("[query %d] lazy traversal failed: %v", i, err)
		}
		if diff := cmp.Diff(vertexIDs(eager.Vertices), drainVertices(t, it)); diff != "" {
			t.Errorf("[query %d] eager/lazy mismatch (-eager +lazy):\n%s", i, diff)
		}
		if err = it.Close(); err != nil {
			t.Errorf("[query %d] close failed: %v", i, err)
		}

		eagerEdges, err := d.Edges(ctx, db, "social", q)
		if err != nil {
			t.Fatalf("[query %d] eager edge traversal failed: %v", i, err)
		}
		edgeIt, err := d.EdgeResultSet(ctx, db, "social", q)
		if err != nil {
			t.Fatalf("[query %d] lazy edge traversal failed: %v", i, err)
		}
		var lazyEdges []string
		for edgeIt.Next(ctx) {
			lazyEdges = append(lazyEdges, edgeIt.Edge().ID)
		}
		if err = edgeIt.Error(); err != nil {
			t.Fatalf("[query %d] edge iterator error: %v", i, err)
		}
		if diff := cmp.Diff(edgeIDs(eagerEdges.Edges), lazyEdges, cmpEmpty); diff != "" {
			t.Errorf("[query %d] eager/lazy edge mismatch (-eager +lazy):\n%s", i, diff)
		}
		_ = edgeIt.Close()
	}
}

// cmpEmpty treats nil and empty slices as equal.
var cmpEmpty = cmp.Comparer(func(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
})

// TestResultSetLifecycle verifies exhaustion and close semantics of lazy
// result sets.
func TestResultSetLifecycle(t *testing.T, d graph.Driver, db string) {
	start := buildNetwork(t, d, db)
	ctx := context.TODO()
	q := graph.TraversalQuery{StartVertex: start, BatchSize: 1}

	it, err := d.VertexResultSet(ctx, db, "social", q)
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if got := drainVertices(t, it); len(got) != 3 {
		t.Fatalf("expected 3 vertices; got %v", got)
	}
	if it.Next(ctx) {
		t.Fatalf("expected an exhausted result set to stay exhausted")
	}
	if err = it.Error(); !errors.Is(err, graph.ErrCursorClosed) {
		t.Errorf("expected re-iteration to fail with ErrCursorClosed; got %v", err)
	}
	if err = it.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err = it.Close(); err != nil {
		t.Errorf("expected second close to be a no-op; got %v", err)
	}
	if it.Next(ctx) || !errors.Is(it.Error(), graph.ErrCursorClosed) {
		t.Errorf("expected a closed result set to reject Next; got %v", it.Error())
	}

	// Close mid-stream.
	it, err = d.VertexResultSet(ctx, db, "social", q)
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if !it.Next(ctx) || it.Vertex().ID != "person/b" {
		t.Fatalf("expected the first vertex to be person/b")
	}
	if err = it.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if it.Next(ctx) {
		t.Fatalf("expected Next to fail after close")
	}
	if !errors.Is(it.Error(), graph.ErrCursorClosed) {
		t.Errorf("expected ErrCursorClosed; got %v", it.Error())
	}
}

// TestTraversalLimitAndCount verifies that the count is independent of the
// limit and available before the lazy result set is consumed.
func TestTraversalLimitAndCount(t *testing.T, d graph.Driver, db string) {
	start := buildNetwork(t, d, db)
	ctx := context.TODO()
	q := graph.TraversalQuery{StartVertex: start, BatchSize: 1, Limit: 2, Count: true}

	res, err := d.Vertices(ctx, db, "social", q)
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"person/b", "person/c"}, vertexIDs(res.Vertices)); diff != "" {
		t.Errorf("limited vertices mismatch (-want +got):\n%s", diff)
	}
	if !res.HasCount || res.Count != 3 {
		t.Errorf("expected count 3; got %d (set: %t)", res.Count, res.HasCount)
	}

	it, err := d.VertexResultSet(ctx, db, "social", q)
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	defer func() { _ = it.Close() }()
	if count, ok := it.Count(); !ok || count != 3 {
		t.Errorf("expected count 3 before consumption; got %d (set: %t)", count, ok)
	}
	if got := drainVertices(t, it); len(got) != 2 {
		t.Errorf("expected the limit to apply; got %v", got)
	}

	res, err = d.Vertices(ctx, db, "social", graph.TraversalQuery{StartVertex: start})
	if err != nil {
		t.Fatalf("traversal failed: %v", err)
	}
	if res.HasCount {
		t.Errorf("expected no count unless requested")
	}
}
