package graphtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/google/go-cmp/cmp"
)

// Suite defines a re-usable set of driver tests that can be executed
// against any type that implements graph.Driver.
type Suite struct {
	D graph.Driver

	// Prefix for the per-test database names. Defaults to "graphtest".
	DBPrefix string

	// Optional helper functions.
	BeforeEach func(*testing.T)
	AfterEach  func(*testing.T)
}

// TestDriver runs every test of the suite. Each test works in a database of
// its own.
func (s *Suite) TestDriver(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T, graph.Driver, string)
	}{
		{"Graph lifecycle", TestGraphLifecycle},
		{"Shared edge definitions", TestSharedEdgeDefinitions},
		{"Replace shared edge definition", TestReplaceSharedEdgeDefinition},
		{"Delete vertex collection", TestDeleteVertexCollection},
		{"Delete graph", TestDeleteGraph},
		{"Vertex revisions", TestVertexRevisions},
		{"Vertex preconditions", TestVertexPreconditions},
		{"Edge operations", TestEdgeOperations},
		{"Local validation", TestLocalValidation},
		{"Traversal filters", TestTraversalFilters},
		{"Eager and lazy traversals agree", TestEagerLazyEquivalence},
		{"Result set lifecycle", TestResultSetLifecycle},
		{"Traversal limit and count", TestTraversalLimitAndCount},
	}

	if s.DBPrefix == "" {
		s.DBPrefix = "graphtest"
	}

	if s.BeforeEach == nil {
		s.BeforeEach = func(t *testing.T) {}
	}

	if s.AfterEach == nil {
		s.AfterEach = func(t *testing.T) {}
	}

	for _, test := range tests {
		db := s.DBPrefix + "_" + strings.ToLower(strings.ReplaceAll(test.name, " ", "_"))
		t.Run(test.name, func(t *testing.T) {
			s.BeforeEach(t)
			test.fn(t, s.D, db)
			s.AfterEach(t)
		})
	}
}

// person is the vertex payload used throughout the suite.
type person struct {
	Key  string `json:"_key,omitempty" msgpack:"_key,omitempty"`
	Name string `json:"name" msgpack:"name"`
	Age  int    `json:"age,omitempty" msgpack:"age,omitempty"`
}

// relation is the edge payload used throughout the suite.
type relation struct {
	Label string `json:"$label,omitempty" msgpack:"$label,omitempty"`
	Since int    `json:"since,omitempty" msgpack:"since,omitempty"`
}

func personToPerson(name string) graph.EdgeDefinition {
	return graph.EdgeDefinition{Collection: name, From: []string{"person"}, To: []string{"person"}}
}

func mustCreateGraph(t *testing.T, d graph.Driver, db, name string, defs []graph.EdgeDefinition, orphans []string) *graph.Graph {
	t.Helper()
	g, err := d.CreateGraph(context.TODO(), db, name, defs, orphans, true)
	if err != nil {
		t.Fatalf("failed to create graph %s: %v", name, err)
	}
	return g
}

// TestGraphLifecycle verifies graph creation and lookup.
func TestGraphLifecycle(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()

	empty := mustCreateGraph(t, d, db, "empty", nil, nil)
	if len(empty.EdgeDefinitions) != 0 || len(empty.OrphanCollections) != 0 {
		t.Fatalf("expected an empty graph; got %+v", empty)
	}
	if empty.Revision == "" {
		t.Errorf("expected the server to assign a graph revision")
	}

	social := mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, []string{"place"})
	if diff := cmp.Diff([]string{"person", "place"}, social.VertexCollections()); diff != "" {
		t.Errorf("vertex collections mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.CreateGraph(ctx, db, "social", nil, nil, false); err == nil {
		t.Errorf("expected creating a duplicate graph to fail")
	}

	names, err := d.GraphNames(ctx, db)
	if err != nil {
		t.Fatalf("failed to list graph names: %v", err)
	}
	if diff := cmp.Diff([]string{"empty", "social"}, names); diff != "" {
		t.Errorf("graph names mismatch (-want +got):\n%s", diff)
	}

	graphs, err := d.Graphs(ctx, db)
	if err != nil {
		t.Fatalf("failed to list graphs: %v", err)
	}
	if len(graphs) != 2 || graphs[1].Name != "social" {
		t.Fatalf("unexpected graph listing: %+v", graphs)
	}

	vertexCols, err := d.VertexCollections(ctx, db, "social")
	if err != nil {
		t.Fatalf("failed to list vertex collections: %v", err)
	}
	if diff := cmp.Diff([]string{"person", "place"}, vertexCols); diff != "" {
		t.Errorf("vertex collections mismatch (-want +got):\n%s", diff)
	}
	edgeCols, err := d.EdgeCollections(ctx, db, "social")
	if err != nil {
		t.Fatalf("failed to list edge collections: %v", err)
	}
	if diff := cmp.Diff([]string{"knows"}, edgeCols); diff != "" {
		t.Errorf("edge collections mismatch (-want +got):\n%s", diff)
	}

	updated, err := d.CreateVertexCollection(ctx, db, "empty", "thing")
	if err != nil {
		t.Fatalf("failed to add vertex collection: %v", err)
	}
	if diff := cmp.Diff([]string{"thing"}, updated.OrphanCollections); diff != "" {
		t.Errorf("orphan collections mismatch (-want +got):\n%s", diff)
	}
	if updated.Revision == empty.Revision {
		t.Errorf("expected the graph revision to change")
	}

	if _, err = d.Graph(ctx, db, "missing"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing graph; got %v", err)
	}
}

// TestSharedEdgeDefinitions verifies that removing an edge definition from
// one graph never drops collections another graph still uses.
func TestSharedEdgeDefinitions(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, nil)
	mustCreateGraph(t, d, db, "family", []graph.EdgeDefinition{personToPerson("knows")}, nil)

	social, err := d.CreateEdgeDefinition(ctx, db, "social", personToPerson("friendOf"))
	if err != nil {
		t.Fatalf("failed to add edge definition: %v", err)
	}
	if diff := cmp.Diff([]string{"friendOf", "knows"}, social.EdgeCollections()); diff != "" {
		t.Errorf("edge collections mismatch (-want +got):\n%s", diff)
	}

	_, err = d.CreateEdgeDefinition(ctx, db, "social", personToPerson("friendOf"))
	if !errors.Is(err, graph.ErrDuplicateDefinitionName) {
		t.Errorf("expected ErrDuplicateDefinitionName; got %v", err)
	}

	report, err := d.DeleteEdgeDefinition(ctx, db, "social", "knows", true)
	if err != nil {
		t.Fatalf("failed to delete edge definition: %v", err)
	}
	if !report.Retains("knows") {
		t.Errorf("expected the shared knows collection to be retained; got %+v", report)
	}
	if len(report.Dropped) != 0 {
		t.Errorf("expected no collection to be dropped; got %v", report.Dropped)
	}
	var refErr *graph.CollectionStillReferencedError
	if !errors.As(report.Err(), &refErr) {
		t.Fatalf("expected a CollectionStillReferencedError; got %v", report.Err())
	}
	if diff := cmp.Diff([]string{"family"}, refErr.Graphs); diff != "" {
		t.Errorf("referencing graphs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"friendOf"}, report.Graph.EdgeCollections()); diff != "" {
		t.Errorf("edge collections mismatch (-want +got):\n%s", diff)
	}

	family, err := d.Graph(ctx, db, "family")
	if err != nil {
		t.Fatalf("failed to get graph: %v", err)
	}
	if diff := cmp.Diff([]string{"knows"}, family.EdgeCollections()); diff != "" {
		t.Errorf("family edge collections mismatch (-want +got):\n%s", diff)
	}

	// The surviving collections must still be usable through the family
	// graph.
	a, err := d.CreateVertex(ctx, db, "family", "person", person{Name: "ann"}, true)
	if err != nil {
		t.Fatalf("failed to create vertex: %v", err)
	}
	if _, err = d.CreateEdge(ctx, db, "family", "knows", "", a.ID, a.ID, nil, true); err != nil {
		t.Fatalf("failed to create edge in the retained collection: %v", err)
	}
}

// TestReplaceSharedEdgeDefinition verifies that replacing a definition
// through one graph updates every graph using it.
func TestReplaceSharedEdgeDefinition(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "social", []graph.EdgeDefinition{personToPerson("knows")}, nil)
	mustCreateGraph(t, d, db, "family", []graph.EdgeDefinition{personToPerson("knows")}, nil)
	mustCreateGraph(t, d, db, "work", []graph.EdgeDefinition{personToPerson("worksWith")}, nil)

	replacement := graph.EdgeDefinition{Collection: "knows", From: []string{"person"}, To: []string{"person", "pet"}}
	if _, err := d.ReplaceEdgeDefinition(ctx, db, "social", "knows", replacement); err != nil {
		t.Fatalf("failed to replace edge definition: %v", err)
	}

	for _, name := range []string{"social", "family"} {
		g, err := d.Graph(ctx, db, name)
		if err != nil {
			t.Fatalf("failed to get graph %s: %v", name, err)
		}
		got, ok := g.EdgeDefinition("knows")
		if !ok || !got.Equal(replacement) {
			t.Errorf("graph %s reports %+v; want %+v", name, got, replacement)
		}
	}

	work, err := d.Graph(ctx, db, "work")
	if err != nil {
		t.Fatalf("failed to get graph: %v", err)
	}
	if _, uses := work.EdgeDefinition("knows"); uses {
		t.Errorf("expected graph work to be unaffected")
	}

	mismatched := graph.EdgeDefinition{Collection: "other", From: []string{"person"}, To: []string{"person"}}
	if _, err = d.ReplaceEdgeDefinition(ctx, db, "social", "knows", mismatched); !errors.Is(err, graph.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a renamed definition; got %v", err)
	}
}

// TestDeleteVertexCollection verifies that a shared orphan collection is
// unlinked but never dropped.
func TestDeleteVertexCollection(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	mustCreateGraph(t, d, db, "a", nil, []string{"own", "shared"})
	mustCreateGraph(t, d, db, "b", nil, []string{"shared"})

	report, err := d.DeleteVertexCollection(ctx, db, "a", "shared", true)
	if err != nil {
		t.Fatalf("failed to delete vertex collection: %v", err)
	}
	if !report.Retains("shared") || !errors.Is(report.Err(), graph.ErrCollectionStillReferenced) {
		t.Errorf("expected shared to be retained; got %+v", report)
	}
	if diff := cmp.Diff([]string{"own"}, report.Graph.VertexCollections()); diff != "" {
		t.Errorf("vertex collections mismatch (-want +got):\n%s", diff)
	}

	cols, err := d.VertexCollections(ctx, db, "b")
	if err != nil {
		t.Fatalf("failed to list vertex collections: %v", err)
	}
	if diff := cmp.Diff([]string{"shared"}, cols); diff != "" {
		t.Errorf("vertex collections mismatch (-want +got):\n%s", diff)
	}
	if _, err = d.CreateVertex(ctx, db, "b", "shared", person{Name: "still here"}, true); err != nil {
		t.Errorf("expected the retained collection to be usable: %v", err)
	}

	report, err = d.DeleteVertexCollection(ctx, db, "a", "own", true)
	if err != nil {
		t.Fatalf("failed to delete vertex collection: %v", err)
	}
	if diff := cmp.Diff([]string{"own"}, report.Dropped); diff != "" {
		t.Errorf("dropped collections mismatch (-want +got):\n%s", diff)
	}
	if err = report.Err(); err != nil {
		t.Errorf("expected a clean report; got %v", err)
	}

	if _, err = d.DeleteVertexCollection(ctx, db, "a", "unknown", false); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown collection; got %v", err)
	}
}

// TestDeleteGraph verifies the per-collection outcome of deleting a graph.
func TestDeleteGraph(t *testing.T, d graph.Driver, db string) {
	ctx := context.TODO()
	def := graph.EdgeDefinition{Collection: "link", From: []string{"page"}, To: []string{"site"}}
	mustCreateGraph(t, d, db, "web", []graph.EdgeDefinition{def}, []string{"draft"})
	mustCreateGraph(t, d, db, "sites", nil, []string{"site"})

	report, err := d.DeleteGraph(ctx, db, "web", true)
	if err != nil {
		t.Fatalf("failed to delete graph: %v", err)
	}
	dropped := append([]string(nil), report.Dropped...)
	sort.Strings(dropped)
	if diff := cmp.Diff([]string{"draft", "link", "page"}, dropped); diff != "" {
		t.Errorf("dropped collections mismatch (-want +got):\n%s", diff)
	}
	if !report.Retains("site") || len(report.Retained) != 1 {
		t.Errorf("expected only site to be retained; got %+v", report.Retained)
	}
	if len(report.Failed) != 0 {
		t.Errorf("expected no failures; got %v", report.Failed)
	}

	if _, err = d.Graph(ctx, db, "web"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound for the deleted graph; got %v", err)
	}
	names, err := d.GraphNames(ctx, db)
	if err != nil {
		t.Fatalf("failed to list graph names: %v", err)
	}
	if diff := cmp.Diff([]string{"sites"}, names); diff != "" {
		t.Errorf("graph names mismatch (-want +got):\n%s", diff)
	}

	if _, err = d.DeleteGraph(ctx, db, "web", false); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound when deleting twice; got %v", err)
	}
}
