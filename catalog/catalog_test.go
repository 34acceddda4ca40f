package catalog_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(CatalogTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type CatalogTestSuite struct {
	cat *catalog.Catalog
}

func (s *CatalogTestSuite) SetUpTest(c *gc.C) {
	var rev int
	s.cat = catalog.New("db", func() string {
		rev++
		return "r" + strconv.Itoa(rev)
	})
}

func knows() graph.EdgeDefinition {
	return graph.EdgeDefinition{Collection: "knows", From: []string{"person"}, To: []string{"person"}}
}

func assertStatus(c *gc.C, err error, want transport.Status) {
	var statusErr *transport.StatusError
	c.Assert(errors.As(err, &statusErr), gc.Equals, true, gc.Commentf("got %v", err))
	c.Assert(statusErr.Status, gc.Equals, want)
}

func (s *CatalogTestSuite) TestCreateGraph(c *gc.C) {
	g, err := s.cat.CreateGraph(&graph.Graph{
		Name: "social",
		EdgeDefinitions: []graph.EdgeDefinition{
			{Collection: "knows", From: []string{"person", "bot", "person"}, To: []string{"person"}},
		},
		OrphanCollections: []string{"person", "city"},
	})
	c.Assert(err, gc.IsNil)
	c.Assert(g.Database, gc.Equals, "db")
	c.Assert(g.Revision, gc.Equals, "r1")
	c.Assert(g.EdgeDefinitions[0].From, gc.DeepEquals, []string{"bot", "person"})
	c.Assert(g.OrphanCollections, gc.DeepEquals, []string{"city"}, gc.Commentf("collections used by a definition are not orphans"))
	c.Assert(s.cat.Collections, gc.DeepEquals, map[string]catalog.Kind{
		"knows":  catalog.EdgeKind,
		"person": catalog.VertexKind,
		"bot":    catalog.VertexKind,
		"city":   catalog.VertexKind,
	})

	_, err = s.cat.CreateGraph(&graph.Graph{Name: "social"})
	assertStatus(c, err, transport.StatusConflict)

	_, err = s.cat.CreateGraph(&graph.Graph{Name: ""})
	assertStatus(c, err, transport.StatusBadRequest)

	_, err = s.cat.CreateGraph(&graph.Graph{Name: "bad", OrphanCollections: []string{"knows"}})
	assertStatus(c, err, transport.StatusBadRequest)
}

func (s *CatalogTestSuite) TestConflictingDefinition(c *gc.C) {
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "a", EdgeDefinitions: []graph.EdgeDefinition{knows()}})
	c.Assert(err, gc.IsNil)

	other := graph.EdgeDefinition{Collection: "knows", From: []string{"robot"}, To: []string{"person"}}
	_, err = s.cat.CreateGraph(&graph.Graph{Name: "b", EdgeDefinitions: []graph.EdgeDefinition{other}})
	assertStatus(c, err, transport.StatusBadRequest)

	// The same definition may be shared.
	_, err = s.cat.CreateGraph(&graph.Graph{Name: "b", EdgeDefinitions: []graph.EdgeDefinition{knows()}})
	c.Assert(err, gc.IsNil)
	c.Assert(s.cat.Users("knows"), gc.DeepEquals, []string{"a", "b"})

	_, err = s.cat.AddEdgeDefinition("a", knows())
	assertStatus(c, err, transport.StatusConflict)

	_, err = s.cat.AddEdgeDefinition("a", graph.EdgeDefinition{Collection: "likes", From: []string{"person"}})
	assertStatus(c, err, transport.StatusBadRequest)
}

func (s *CatalogTestSuite) TestReplaceAppliesToEveryUser(c *gc.C) {
	for _, name := range []string{"a", "b"} {
		_, err := s.cat.CreateGraph(&graph.Graph{Name: name, EdgeDefinitions: []graph.EdgeDefinition{knows()}})
		c.Assert(err, gc.IsNil)
	}
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "c", OrphanCollections: []string{"person"}})
	c.Assert(err, gc.IsNil)

	replacement := graph.EdgeDefinition{Collection: "knows", From: []string{"robot"}, To: []string{"robot"}}
	g, changed, err := s.cat.ReplaceEdgeDefinition("a", replacement)
	c.Assert(err, gc.IsNil)
	c.Assert(changed, gc.DeepEquals, []string{"a", "b"})
	c.Assert(g.OrphanCollections, gc.DeepEquals, []string{"person"})

	b, err := s.cat.Graph("b")
	c.Assert(err, gc.IsNil)
	c.Assert(b.EdgeDefinitions, gc.DeepEquals, []graph.EdgeDefinition{replacement})
	c.Assert(b.OrphanCollections, gc.DeepEquals, []string{"person"})

	untouched, err := s.cat.Graph("c")
	c.Assert(err, gc.IsNil)
	c.Assert(untouched.Revision, gc.Equals, "r3")

	_, _, err = s.cat.ReplaceEdgeDefinition("c", replacement)
	assertStatus(c, err, transport.StatusNotFound)
}

func (s *CatalogTestSuite) TestRemoveEdgeDefinition(c *gc.C) {
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "a", EdgeDefinitions: []graph.EdgeDefinition{knows()}})
	c.Assert(err, gc.IsNil)

	g, err := s.cat.RemoveEdgeDefinition("a", "knows", true)
	c.Assert(err, gc.IsNil)
	c.Assert(g.EdgeDefinitions, gc.HasLen, 0)
	c.Assert(g.OrphanCollections, gc.DeepEquals, []string{"person"})
	c.Assert(s.cat.TakeDropped(), gc.DeepEquals, []string{"knows"})
	c.Assert(s.cat.TakeDropped(), gc.HasLen, 0)

	_, err = s.cat.RemoveEdgeDefinition("a", "knows", false)
	assertStatus(c, err, transport.StatusNotFound)
}

func (s *CatalogTestSuite) TestVertexCollections(c *gc.C) {
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "a", EdgeDefinitions: []graph.EdgeDefinition{knows()}})
	c.Assert(err, gc.IsNil)

	_, err = s.cat.AddVertexCollection("a", "person")
	assertStatus(c, err, transport.StatusConflict)
	_, err = s.cat.AddVertexCollection("a", "knows")
	assertStatus(c, err, transport.StatusBadRequest)

	g, err := s.cat.AddVertexCollection("a", "city")
	c.Assert(err, gc.IsNil)
	c.Assert(g.OrphanCollections, gc.DeepEquals, []string{"city"})

	_, err = s.cat.RemoveVertexCollection("a", "person", false)
	assertStatus(c, err, transport.StatusBadRequest)

	g, err = s.cat.RemoveVertexCollection("a", "city", true)
	c.Assert(err, gc.IsNil)
	c.Assert(g.OrphanCollections, gc.HasLen, 0)
	_, exists := s.cat.Collections["city"]
	c.Assert(exists, gc.Equals, false)
}

func (s *CatalogTestSuite) TestDeleteGraphKeepsSharedCollections(c *gc.C) {
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "a", EdgeDefinitions: []graph.EdgeDefinition{knows()}, OrphanCollections: []string{"own"}})
	c.Assert(err, gc.IsNil)
	_, err = s.cat.CreateGraph(&graph.Graph{Name: "b", OrphanCollections: []string{"person"}})
	c.Assert(err, gc.IsNil)

	c.Assert(s.cat.DeleteGraph("a", true), gc.IsNil)
	c.Assert(s.cat.TakeDropped(), gc.DeepEquals, []string{"knows", "own"})
	c.Assert(s.cat.Collections, gc.DeepEquals, map[string]catalog.Kind{"person": catalog.VertexKind})

	assertStatus(c, s.cat.DeleteGraph("a", false), transport.StatusNotFound)
	assertStatus(c, s.cat.DropCollection("own"), transport.StatusNotFound)
}

func (s *CatalogTestSuite) TestMember(c *gc.C) {
	_, err := s.cat.CreateGraph(&graph.Graph{Name: "a", EdgeDefinitions: []graph.EdgeDefinition{knows()}})
	c.Assert(err, gc.IsNil)

	_, err = s.cat.Member("a", "person", catalog.VertexKind)
	c.Assert(err, gc.IsNil)
	_, err = s.cat.Member("a", "knows", catalog.EdgeKind)
	c.Assert(err, gc.IsNil)
	_, err = s.cat.Member("a", "knows", catalog.VertexKind)
	assertStatus(c, err, transport.StatusNotFound)
	_, err = s.cat.Member("missing", "person", catalog.VertexKind)
	assertStatus(c, err, transport.StatusNotFound)
}
