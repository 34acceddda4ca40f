package catalog

import (
	"reflect"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
)

var comparators = map[string]func(c int) bool{
	"==": func(c int) bool { return c == 0 },
	"!=": func(c int) bool { return c != 0 },
	"<":  func(c int) bool { return c < 0 },
	"<=": func(c int) bool { return c <= 0 },
	">":  func(c int) bool { return c > 0 },
	">=": func(c int) bool { return c >= 0 },
}

// CheckFilters rejects filters with an unknown operator.
func CheckFilters(filters []graph.Filter) error {
	for _, f := range filters {
		if _, known := comparators[f.Operator]; !known {
			return reject(transport.StatusBadRequest, "unknown filter operator %q", f.Operator)
		}
	}
	return nil
}

// CheckDirection rejects a traversal direction other than any, outbound or
// inbound.
func CheckDirection(dir graph.Direction) error {
	switch dir {
	case graph.Any, graph.Outbound, graph.Inbound:
		return nil
	default:
		return reject(transport.StatusBadRequest, "unknown traversal direction %q", dir)
	}
}

// Follow returns the vertex at the other end of edge e if e connects to
// start in the requested direction.
func Follow(e Entity, start string, dir graph.Direction) (string, bool) {
	from, to := e.Str(graph.FromField), e.Str(graph.ToField)
	switch {
	case dir != graph.Inbound && from == start:
		return to, true
	case dir != graph.Outbound && to == start:
		return from, true
	default:
		return "", false
	}
}

// HasLabel reports whether edge e carries one of labels. An empty label
// set matches every edge.
func HasLabel(e Entity, labels []string) bool {
	return len(labels) == 0 || contains(labels, e.Str(graph.LabelField))
}

// Match reports whether e satisfies every filter. A missing property never
// matches; values of different types only satisfy "!=".
func Match(e Entity, filters []graph.Filter) bool {
	for _, f := range filters {
		v, exists := e[f.Property]
		if !exists {
			return false
		}
		c, comparable := compare(v, f.Value)
		if !comparable {
			if f.Operator != "!=" {
				return false
			}
			continue
		}
		if !comparators[f.Operator](c) {
			return false
		}
	}
	return true
}

// compare orders two decoded attribute values. Numbers compare numerically
// regardless of their concrete type; booleans only compare for equality.
func compare(a, b interface{}) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		return order(x < y, x > y), true
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return order(x < y, x > y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x != y {
			return 1, true
		}
		return 0, true
	case nil:
		return 0, b == nil
	}
	return 0, false
}

func order(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
