package catalog_test

import (
	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	gc "gopkg.in/check.v1"
)

var _ = gc.Suite(new(FilterTestSuite))

type FilterTestSuite struct{}

func (s *FilterTestSuite) TestMatch(c *gc.C) {
	e := catalog.Entity{"name": "ann", "age": int8(31), "score": 2.5, "active": true}

	specs := []struct {
		filter graph.Filter
		want   bool
	}{
		{graph.Filter{Property: "age", Operator: ">=", Value: 30}, true},
		{graph.Filter{Property: "age", Operator: "<", Value: float64(31)}, false},
		{graph.Filter{Property: "age", Operator: "==", Value: uint16(31)}, true},
		{graph.Filter{Property: "score", Operator: ">", Value: 2}, true},
		{graph.Filter{Property: "name", Operator: "<", Value: "bob"}, true},
		{graph.Filter{Property: "name", Operator: "==", Value: 1}, false},
		{graph.Filter{Property: "name", Operator: "!=", Value: 1}, true},
		{graph.Filter{Property: "active", Operator: "==", Value: true}, true},
		{graph.Filter{Property: "active", Operator: "<", Value: false}, false},
		{graph.Filter{Property: "missing", Operator: "!=", Value: 1}, false},
	}
	for i, spec := range specs {
		c.Check(catalog.Match(e, []graph.Filter{spec.filter}), gc.Equals, spec.want, gc.Commentf("spec %d: %+v", i, spec.filter))
	}
}

func (s *FilterTestSuite) TestCheckFilters(c *gc.C) {
	c.Assert(catalog.CheckFilters([]graph.Filter{{Property: "age", Operator: ">=", Value: 1}}), gc.IsNil)
	assertStatus(c, catalog.CheckFilters([]graph.Filter{{Property: "age", Operator: "~", Value: 1}}), transport.StatusBadRequest)
}

func (s *FilterTestSuite) TestCheckDirection(c *gc.C) {
	for _, dir := range []graph.Direction{graph.Any, graph.Outbound, graph.Inbound} {
		c.Check(catalog.CheckDirection(dir), gc.IsNil)
	}
	assertStatus(c, catalog.CheckDirection("sideways"), transport.StatusBadRequest)
	assertStatus(c, catalog.CheckDirection(""), transport.StatusBadRequest)
}

func (s *FilterTestSuite) TestFollow(c *gc.C) {
	e := catalog.Entity{graph.FromField: "person/a", graph.ToField: "person/b", graph.LabelField: "friend"}

	next, ok := catalog.Follow(e, "person/a", graph.Outbound)
	c.Assert(ok, gc.Equals, true)
	c.Assert(next, gc.Equals, "person/b")

	_, ok = catalog.Follow(e, "person/a", graph.Inbound)
	c.Assert(ok, gc.Equals, false)

	next, ok = catalog.Follow(e, "person/b", graph.Any)
	c.Assert(ok, gc.Equals, true)
	c.Assert(next, gc.Equals, "person/a")

	c.Assert(catalog.HasLabel(e, nil), gc.Equals, true)
	c.Assert(catalog.HasLabel(e, []string{"colleague", "friend"}), gc.Equals, true)
	c.Assert(catalog.HasLabel(e, []string{"colleague"}), gc.Equals, false)
}

func (s *FilterTestSuite) TestPrecondition(c *gc.C) {
	c.Assert(catalog.Precondition(nil, "r1", true), gc.IsNil)

	resp := catalog.Precondition(transport.Header{transport.HeaderIfMatch: "r0"}, "r1", false)
	c.Assert(resp, gc.NotNil)
	c.Assert(resp.Status, gc.Equals, transport.StatusPreconditionFailed)
	c.Assert(resp.Revision, gc.Equals, "r1")

	resp = catalog.Precondition(transport.Header{transport.HeaderIfNoneMatch: "r1"}, "r1", true)
	c.Assert(resp.Status, gc.Equals, transport.StatusNotModified)
	resp = catalog.Precondition(transport.Header{transport.HeaderIfNoneMatch: "r1"}, "r1", false)
	c.Assert(resp.Status, gc.Equals, transport.StatusPreconditionFailed)
}

func (s *FilterTestSuite) TestMergeAndReplace(c *gc.C) {
	existing := catalog.Entity{graph.KeyField: "a", "name": "ann", "age": 31, graph.FromField: "p/a", graph.ToField: "p/b"}

	merged := catalog.Merge(existing, catalog.Entity{"age": nil, graph.KeyField: "other", "city": "x"}, false)
	c.Assert(merged, gc.DeepEquals, catalog.Entity{graph.KeyField: "a", "name": "ann", "city": "x", graph.FromField: "p/a", graph.ToField: "p/b"})

	kept := catalog.Merge(existing, catalog.Entity{"age": nil}, true)
	_, has := kept["age"]
	c.Assert(has, gc.Equals, true)

	replaced := catalog.Replace(existing, catalog.Entity{"name": "bob"}, true)
	c.Assert(replaced, gc.DeepEquals, catalog.Entity{"name": "bob", graph.FromField: "p/a", graph.ToField: "p/b"})
}
