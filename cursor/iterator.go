package cursor

import (
	"context"
	"io"
	"time"
)

// DecodeFunc converts an encoded element into its typed representation.
type DecodeFunc func(raw []byte) (interface{}, error)

// Iterator adapts a Cursor to the Next/Error/Close iteration style. It is
// not safe for concurrent use.
type Iterator struct {
	c              *Cursor
	decode         DecodeFunc
	releaseTimeout time.Duration

	latched interface{}
	lastErr error
}

// NewIterator wraps c. Elements are decoded with decode as they are
// advanced over; releaseTimeout bounds the server-side release on Close.
func NewIterator(c *Cursor, decode DecodeFunc, releaseTimeout time.Duration) *Iterator {
	return &Iterator{c: c, decode: decode, releaseTimeout: releaseTimeout}
}

// Next advances the iterator. It returns false when the sequence is
// exhausted or an error occurred; advancing again after that records
// graph.ErrCursorExhausted (or graph.ErrCursorClosed once closed).
func (it *Iterator) Next(ctx context.Context) bool {
	raw, err := it.c.Advance(ctx)
	if err == io.EOF {
		it.latched = nil
		return false
	} else if err != nil {
		it.latched = nil
		it.lastErr = err
		return false
	}

	if it.latched, it.lastErr = it.decode(raw); it.lastErr != nil {
		_ = it.Close()
		return false
	}
	return true
}

// Error returns the last error encountered by the iterator.
func (it *Iterator) Error() error {
	return it.lastErr
}

// Close releases the server cursor. Closing twice is a no-op.
func (it *Iterator) Close() error {
	ctx := context.Background()
	if it.releaseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.releaseTimeout)
		defer cancel()
	}
	return it.c.Close(ctx)
}

// Count returns the total result count, if it was requested.
func (it *Iterator) Count() (int64, bool) {
	return it.c.Count()
}

// Current returns the element fetched by the last successful Next call.
func (it *Iterator) Current() interface{} {
	return it.latched
}
