package graph

import "fmt"

// ConditionKind selects the optimistic-concurrency check attached to a
// single-entity call.
type ConditionKind uint8

const (
	// NoCondition disables optimistic checks.
	NoCondition ConditionKind = iota

	// MatchCondition requires the live revision to equal the token.
	MatchCondition

	// NoneMatchCondition requires the live revision to differ from the
	// token.
	NoneMatchCondition
)

// Precondition is the revision check attached to a single-entity call. The
// zero value carries no check.
type Precondition struct {
	kind ConditionKind
	rev  string
}

// None returns a precondition that performs no revision check.
func None() Precondition { return Precondition{} }

// IfMatch returns a precondition that fails unless the entity's live
// revision equals rev.
func IfMatch(rev string) Precondition {
	return Precondition{kind: MatchCondition, rev: rev}
}

// IfNoneMatch returns a precondition that fails if the entity's live
// revision equals rev.
func IfNoneMatch(rev string) Precondition {
	return Precondition{kind: NoneMatchCondition, rev: rev}
}

// Kind reports the kind of check.
func (p Precondition) Kind() ConditionKind { return p.kind }

// Revision returns the token the check compares against.
func (p Precondition) Revision() string { return p.rev }

// IsNone reports whether no check is attached. A match condition with an
// empty token is treated as no check.
func (p Precondition) IsNone() bool { return p.kind == NoCondition || p.rev == "" }

func (p Precondition) String() string {
	switch {
	case p.IsNone():
		return "no precondition"
	case p.kind == MatchCondition:
		return fmt.Sprintf("if-match %q", p.rev)
	default:
		return fmt.Sprintf("if-none-match %q", p.rev)
	}
}
