package graphtest

import (
	"context"
	"errors"
	"testing"

	"github.com/ejacobg/graphdriver/graph"
)

// TestVertexRevisions verifies that every write yields a new revision and
// that a stale revision is rejected with the current one reported.
func TestVertexRevisions(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, nil)

	created, err := d.CreateVertex(ctx, db, "social", "person", person{Key: "alice", Name: "alice", Age: 30}, true)
	if err != nil {
		t.Fatalf("failed to create vertex: %v", err)
	}
	if created.Key != "alice" || created.ID != "person/alice" || created.Rev == "" {
		t.Fatalf("unexpected echo: %+v", created)
	}
	r1 := created.Rev

	patch := map[string]interface{}{"age": 31}
	opts := graph.UpdateOptions{WriteOptions: graph.WriteOptions{WaitForSync: true, Condition: graph.IfMatch(r1)}}
	updated, err := d.UpdateVertex(ctx, db, "social", "person", "alice", patch, opts)
	if err != nil {
		t.Fatalf("failed to update vertex: %v", err)
	}
	r2 := updated.Rev
	if r2 == "" || r2 == r1 {
		t.Fatalf("expected a new revision; got %q after %q", r2, r1)
	}

	_, err = d.UpdateVertex(ctx, db, "social", "person", "alice", patch, opts)
	var mismatch *graph.RevisionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected a RevisionMismatchError; got %v", err)
	}
	if mismatch.Current != r2 {
		t.Errorf("expected current revision %q; got %q", r2, mismatch.Current)
	}
	if mismatch.Handle != "person/alice" || mismatch.Precondition.Revision() != r1 {
		t.Errorf("mismatch lacks the attempted call context: %+v", mismatch)
	}

	// The echoed revision is immediately usable as a precondition.
	replaced, err := d.ReplaceVertex(ctx, db, "social", "person", "alice", person{Name: "alice", Age: 40}, graph.WriteOptions{Condition: graph.IfMatch(r2)})
	if err != nil {
		t.Fatalf("failed to replace vertex: %v", err)
	}
	if replaced.Rev == r2 {
		t.Errorf("expected replace to yield a new revision")
	}

	stored, err := d.Vertex(ctx, db, "social", "person", "alice", graph.ReadOptions{})
	if err != nil {
		t.Fatalf("failed to get vertex: %v", err)
	}
	var p person
	if err = stored.Decode(&p); err != nil {
		t.Fatalf("failed to decode vertex: %v", err)
	}
	if p.Name != "alice" || p.Age != 40 || stored.Rev != replaced.Rev {
		t.Errorf("unexpected stored vertex %+v (rev %s)", p, stored.Rev)
	}
}

// TestVertexPreconditions verifies read and delete preconditions, the
// advisory revision and null handling on update.
func TestVertexPreconditions(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "social", nil, []string{"person"})

	created, err := d.CreateVertex(ctx, db, "social", "person", person{Name: "bob", Age: 50}, false)
	if err != nil {
		t.Fatalf("failed to create vertex: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("expected the server to assign a key")
	}

	_, err = d.Vertex(ctx, db, "social", "person", created.Key, graph.ReadOptions{Condition: graph.IfNoneMatch(created.Rev)})
	if !errors.Is(err, graph.ErrRevisionMismatch) {
		t.Errorf("expected a revision mismatch for an unchanged entity; got %v", err)
	}
	if _, err = d.Vertex(ctx, db, "social", "person", created.Key, graph.ReadOptions{Condition: graph.IfNoneMatch("stale")}); err != nil {
		t.Errorf("expected read to succeed: %v", err)
	}
	if _, err = d.Vertex(ctx, db, "social", "person", created.Key, graph.ReadOptions{Rev: "stale"}); err != nil {
		t.Errorf("expected the advisory revision to be ignored: %v", err)
	}

	patch := map[string]interface{}{"age": nil, "city": "paris"}
	updated, err := d.UpdateVertex(ctx, db, "social", "person", created.Key, patch, graph.UpdateOptions{KeepNull: false})
	if err != nil {
		t.Fatalf("failed to update vertex: %v", err)
	}
	var attrs map[string]interface{}
	if err = updated.Decode(&attrs); err != nil {
		t.Fatalf("failed to decode vertex: %v", err)
	}
	if _, has := attrs["age"]; has {
		t.Errorf("expected null attribute to be removed; got %v", attrs)
	}
	if attrs["city"] != "paris" || attrs["name"] != "bob" {
		t.Errorf("expected patch to be merged; got %v", attrs)
	}

	_, err = d.DeleteVertex(ctx, db, "social", "person", created.Key, graph.WriteOptions{Condition: graph.IfMatch(created.Rev)})
	if !errors.Is(err, graph.ErrRevisionMismatch) {
		t.Errorf("expected a stale delete to fail; got %v", err)
	}
	removed, err := d.DeleteVertex(ctx, db, "social", "person", created.Key, graph.WriteOptions{Condition: graph.IfMatch(updated.Rev)})
	if err != nil {
		t.Fatalf("failed to delete vertex: %v", err)
	}
	if removed.Key != created.Key {
		t.Errorf("expected delete to echo key %q; got %q", created.Key, removed.Key)
	}
	if _, err = d.Vertex(ctx, db, "social", "person", created.Key, graph.ReadOptions{}); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete; got %v", err)
	}
}

// TestEdgeOperations verifies the collection and handle addressed edge
// calls.
func TestEdgeOperations(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, []string{"place"})
	a := mustCreateVertex(t, d, db, "social", "a", 20)
	b := mustCreateVertex(t, d, db, "social", "b", 25)

	e, err := d.CreateEdge(ctx, db, "social", "knows", "ab", a.ID, b.ID, relation{Since: 2020}, true)
	if err != nil {
		t.Fatalf("failed to create edge: %v", err)
	}
	if e.ID != "knows/ab" || e.From != a.ID || e.To != b.ID || e.Rev == "" {
		t.Fatalf("unexpected edge echo: %+v", e)
	}

	fetched, err := d.EdgeByHandle(ctx, db, "social", e.ID, graph.ReadOptions{})
	if err != nil {
		t.Fatalf("failed to get edge: %v", err)
	}
	if fetched.Rev != e.Rev {
		t.Errorf("expected revision %q; got %q", e.Rev, fetched.Rev)
	}

	replaced, err := d.ReplaceEdgeByHandle(ctx, db, "social", e.ID, relation{Since: 2021}, graph.WriteOptions{Condition: graph.IfMatch(e.Rev)})
	if err != nil {
		t.Fatalf("failed to replace edge: %v", err)
	}
	if replaced.From != a.ID || replaced.To != b.ID {
		t.Errorf("expected replace to keep the endpoints; got %s -> %s", replaced.From, replaced.To)
	}
	var rel relation
	if err = replaced.Decode(&rel); err != nil || rel.Since != 2021 {
		t.Errorf("unexpected replaced payload %+v (err %v)", rel, err)
	}

	_, err = d.ReplaceEdge(ctx, db, "social", "knows", "ab", relation{}, graph.WriteOptions{Condition: graph.IfMatch(e.Rev)})
	if !errors.Is(err, graph.ErrRevisionMismatch) {
		t.Errorf("expected a stale replace to fail; got %v", err)
	}

	if _, err = d.CreateEdge(ctx, db, "social", "knows", "", a.ID, "person/missing", nil, true); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing endpoint; got %v", err)
	}
	if _, err = d.CreateEdge(ctx, db, "social", "knows", "", a.ID, "place/x", nil, true); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a disallowed endpoint; got %v", err)
	}

	if _, err = d.DeleteEdgeByHandle(ctx, db, "social", e.ID, graph.WriteOptions{}); err != nil {
		t.Fatalf("failed to delete edge: %v", err)
	}
	if _, err = d.Edge(ctx, db, "social", "knows", "ab", graph.ReadOptions{}); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete; got %v", err)
	}

	// Deleting a vertex removes the edges touching it.
	if _, err = d.CreateEdge(ctx, db, "social", "knows", "ba", b.ID, a.ID, nil, true); err != nil {
		t.Fatalf("failed to create edge: %v", err)
	}
	if _, err = d.DeleteVertex(ctx, db, "social", "person", "a", graph.WriteOptions{}); err != nil {
		t.Fatalf("failed to delete vertex: %v", err)
	}
	if _, err = d.Edge(ctx, db, "social", "knows", "ba", graph.ReadOptions{}); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected dangling edge to be removed; got %v", err)
	}
}

// TestLocalValidation verifies the checks performed before any request is
// sent.
func TestLocalValidation(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()

	if _, err := d.Vertex(ctx, db, "social", "person", "", graph.ReadOptions{}); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for an empty key; got %v", err)
	}
	if _, err := d.EdgeByHandle(ctx, db, "social", "no-slash", graph.ReadOptions{}); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a malformed handle; got %v", err)
	}
	if _, err := d.CreateEdge(ctx, db, "social", "knows", "", "person/a", "/b", nil, false); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a malformed endpoint; got %v", err)
	}
	if _, err := d.Vertices(ctx, db, "social", graph.TraversalQuery{StartVertex: "person/a", Limit: -1}); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a negative limit; got %v", err)
	}
	if _, err := d.CreateGraph(ctx, db, "", nil, nil, false); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for an empty graph name; got %v", err)
	}
}

func mustCreateVertex(t *testing.T, d graph.Driver, db, graphName, key string, age int) *graph.Document {
	t.Helper()
	doc, err := d.CreateVertex(context.TODO(), db, graphName, "person", person{Key: key, Name: key, Age: age}, true)
	if err != nil {
		t.Fatalf("failed to create vertex %s: %v", key, err)
	}
	return doc
}
