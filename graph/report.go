package graph

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Retention records a collection that was asked to be dropped but was kept.
type Retention struct {
	Collection string

	// Reason is a *CollectionStillReferencedError or wraps
	// ErrReferencesUnknown.
	Reason error
}

// DropReport describes the outcome of a call that may drop collections.
// Sub-operations are reported individually instead of aborting on the first
// failure.
type DropReport struct {
	// Graph is the graph after the call, or nil if the graph was deleted.
	Graph *Graph

	// Dropped lists the collections that were physically removed.
	Dropped []string

	// Retained lists the collections that were unlinked but kept.
	Retained []Retention

	// Failed maps collections to the error returned when dropping them.
	Failed map[string]error
}

// Err aggregates the retained and failed sub-operations. It returns nil when
// every requested drop succeeded.
func (r *DropReport) Err() error {
	var err *multierror.Error
	for _, ret := range r.Retained {
		err = multierror.Append(err, ret.Reason)
	}
	for _, name := range sortedKeys(r.Failed) {
		err = multierror.Append(err, fmt.Errorf("drop collection %s: %w", name, r.Failed[name]))
	}
	return err.ErrorOrNil()
}

// Retains reports whether the named collection was kept.
func (r *DropReport) Retains(collection string) bool {
	for _, ret := range r.Retained {
		if ret.Collection == collection {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return sortedSet(keys)
}
