// Package revision encodes the optimistic-concurrency preconditions attached
// to single-entity requests and translates the server's conflict signals
// back into typed errors. It never retries: re-reading and recomputing on a
// conflict is up to the caller.
package revision

import (
	"fmt"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
)

// FromTokens converts a pair of optional if-match / if-none-match tokens
// into a precondition. Supplying both tokens is rejected before any request
// is built.
func FromTokens(ifMatch, ifNoneMatch string) (graph.Precondition, error) {
	switch {
	case ifMatch != "" && ifNoneMatch != "":
		return graph.None(), fmt.Errorf("precondition: %w", graph.ErrInvalidPreconditionCombination)
	case ifMatch != "":
		return graph.IfMatch(ifMatch), nil
	case ifNoneMatch != "":
		return graph.IfNoneMatch(ifNoneMatch), nil
	default:
		return graph.None(), nil
	}
}

// Attach builds the request headers for a guarded call. The advisory rev is
// recorded but never turned into a precondition.
func Attach(rev string, cond graph.Precondition) transport.Header {
	h := make(transport.Header, 2)
	if rev != "" {
		h[transport.HeaderReadRevision] = rev
	}
	if cond.IsNone() {
		return h
	}

	switch cond.Kind() {
	case graph.MatchCondition:
		h[transport.HeaderIfMatch] = cond.Revision()
	case graph.NoneMatchCondition:
		h[transport.HeaderIfNoneMatch] = cond.Revision()
	}
	return h
}

// AttachTokens is the token-based variant of Attach.
func AttachTokens(op transport.Op, rev, ifMatch, ifNoneMatch string) (transport.Header, error) {
	cond, err := FromTokens(ifMatch, ifNoneMatch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Attach(rev, cond), nil
}

// Translate interprets the response of a call guarded by cond. It returns
// nil for successful responses, a *graph.RevisionMismatchError when the
// server refused the precondition and the generic mapping otherwise.
func Translate(op transport.Op, handle string, cond graph.Precondition, resp *transport.Response) error {
	switch resp.Status {
	case transport.StatusPreconditionFailed, transport.StatusNotModified:
		return &graph.RevisionMismatchError{
			Handle:       handle,
			Precondition: cond,
			Current:      resp.Revision,
		}
	default:
		if err := transport.CheckResponse(string(op), resp); err != nil {
			if _, nf := err.(*graph.NotFoundError); nf {
				return &graph.NotFoundError{Kind: "entity", Name: handle}
			}
			return err
		}
		return nil
	}
}
