// Package cursor turns the batch-oriented server cursor protocol into a
// forward-only sequence. One state machine backs both consumption modes:
// Collect drives it to exhaustion, Iterator exposes single-step advancement.
package cursor

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"sync/atomic"

	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a cursor.
type State int

// Cursor states.
const (
	Fresh State = iota
	Fetching
	Buffered
	Exhausted
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Fetching:
		return "fetching"
	case Buffered:
		return "buffered"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fetcher is implemented by objects that can run traversal queries and page
// through server cursors. transport.Executor satisfies it.
type Fetcher interface {
	Query(ctx context.Context, q *transport.Query) (*transport.Batch, error)
	FetchBatch(ctx context.Context, cursorID string) (*transport.Batch, error)
	ReleaseCursor(ctx context.Context, cursorID string) error
}

// Options configure a cursor.
type Options struct {
	// Limit caps the number of elements delivered. Zero means no limit.
	// When unset, the traversal limit of the query is used.
	Limit int

	// Logger receives release failures. Defaults to a discarding logger.
	Logger *logrus.Entry
}

// Cursor is a forward-only, single-pass sequence over the results of a
// server cursor. Advance must only be called by one goroutine at a time;
// concurrent calls fail with graph.ErrConcurrentAdvance. Close may be called
// from any goroutine.
type Cursor struct {
	fetcher Fetcher
	logger  *logrus.Entry
	limit   int

	busy int32

	mu        sync.Mutex
	state     State
	id        string
	buf       [][]byte
	pos       int
	hasMore   bool
	delivered int
	count     int64
	hasCount  bool
	err       error
	closed    bool
}

// closedError reports an advance on a cursor that was closed after it had
// already failed. It matches graph.ErrCursorClosed and unwraps to the
// failure.
type closedError struct {
	cause error
}

func (e *closedError) Error() string {
	return fmt.Sprintf("%s: %v", graph.ErrCursorClosed, e.cause)
}

func (e *closedError) Is(target error) bool { return target == graph.ErrCursorClosed }
func (e *closedError) Unwrap() error        { return e.cause }

// New returns a cursor in the Fresh state. Call Open to dispatch the
// initial query.
func New(f Fetcher, opts Options) *Cursor {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Cursor{fetcher: f, logger: logger, limit: opts.Limit}
}

// Open dispatches the initial query and buffers the first batch.
func Open(ctx context.Context, f Fetcher, q *transport.Query, opts Options) (*Cursor, error) {
	if opts.Limit == 0 {
		opts.Limit = q.Traversal.Limit
	}
	c := New(f, opts)
	if err := c.start(ctx, q); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) start(ctx context.Context, q *transport.Query) error {
	c.mu.Lock()
	if c.state != Fresh {
		c.mu.Unlock()
		return fmt.Errorf("open cursor: already %s", c.state)
	}
	c.state = Fetching
	c.mu.Unlock()

	batch, err := c.fetcher.Query(ctx, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Closed
		c.err = transport.Classify("query", err)
		return c.err
	}
	c.install(batch)
	return nil
}

// install replaces the in-memory buffer. c.mu must be held.
func (c *Cursor) install(batch *transport.Batch) {
	c.buf = batch.Results
	c.pos = 0
	c.hasMore = batch.HasMore
	if batch.CursorID != "" {
		c.id = batch.CursorID
	}
	if batch.HasCount && !c.hasCount {
		c.count, c.hasCount = batch.Count, true
	}
	c.state = Buffered
}

// Advance returns the next element. It only performs I/O when the buffered
// batch is drained and the server reported more results.
//
// The first call past the last element returns io.EOF. Later calls return
// graph.ErrCursorExhausted, calls after Close return graph.ErrCursorClosed
// and calls after a failure return that failure again until the cursor is
// closed.
func (c *Cursor) Advance(ctx context.Context) ([]byte, error) {
	if !atomic.CompareAndSwapInt32(&c.busy, 0, 1) {
		return nil, graph.ErrConcurrentAdvance
	}
	defer atomic.StoreInt32(&c.busy, 0)

	c.mu.Lock()
	for {
		switch c.state {
		case Fresh:
			c.mu.Unlock()
			return nil, fmt.Errorf("advance: %w: cursor not opened", graph.ErrCursorClosed)
		case Closed:
			err, closed := c.err, c.closed
			c.mu.Unlock()
			switch {
			case err == nil:
				err = graph.ErrCursorClosed
			case closed:
				err = &closedError{cause: err}
			}
			return nil, err
		case Exhausted:
			c.mu.Unlock()
			return nil, graph.ErrCursorExhausted
		}

		if c.limit > 0 && c.delivered >= c.limit {
			return nil, c.finish(ctx)
		}

		if c.pos < len(c.buf) {
			item := c.buf[c.pos]
			c.pos++
			c.delivered++
			c.mu.Unlock()
			return item, nil
		}

		if !c.hasMore {
			return nil, c.finish(ctx)
		}

		if err := ctx.Err(); err != nil {
			return nil, c.fail(ctx, &graph.TransportError{Op: "fetch batch", Err: err})
		}

		c.state = Fetching
		id := c.id
		c.mu.Unlock()

		batch, err := c.fetcher.FetchBatch(ctx, id)

		c.mu.Lock()
		if c.state == Closed {
			// Closed while the fetch was in flight.
			c.mu.Unlock()
			if err == nil && batch.HasMore {
				c.release(ctx, batch.CursorID)
			}
			return nil, graph.ErrCursorClosed
		}
		if err != nil {
			return nil, c.fail(ctx, transport.Classify("fetch batch", err))
		}
		c.install(batch)
	}
}

// finish moves the cursor to Exhausted, releasing the server cursor if it
// still holds results. c.mu must be held; it is released on return.
func (c *Cursor) finish(ctx context.Context) error {
	id, live := c.id, c.hasMore
	c.state = Exhausted
	c.buf = nil
	c.hasMore = false
	c.mu.Unlock()

	if live {
		c.release(ctx, id)
	}
	return io.EOF
}

// fail records err and closes the cursor. c.mu must be held; it is released
// on return.
func (c *Cursor) fail(ctx context.Context, err error) error {
	id, live := c.id, c.hasMore
	c.state = Closed
	c.err = err
	c.buf = nil
	c.hasMore = false
	c.mu.Unlock()

	if live {
		c.release(ctx, id)
	}
	return err
}

// Close releases the server cursor. Closing is idempotent and always leaves
// the cursor in the Closed state, even if the server-side release fails.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	prev := c.state
	id, live := c.id, c.hasMore
	c.state = Closed
	c.buf = nil
	c.hasMore = false
	c.mu.Unlock()

	// An in-flight fetch releases the cursor it receives.
	if live && prev != Fetching {
		c.release(ctx, id)
	}
	return nil
}

func (c *Cursor) release(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := c.fetcher.ReleaseCursor(ctx, id); err != nil {
		c.logger.WithFields(logrus.Fields{
			"cursor": id,
			"err":    err,
		}).Warn("failed to release server cursor")
	}
}

// Count returns the total result count, if the query requested it. It is
// available as soon as the first batch was received.
func (c *Cursor) Count() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.hasCount
}

// State returns the current lifecycle state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Collect drives the cursor to exhaustion and returns every element in the
// order received. The cursor is closed on return.
func Collect(ctx context.Context, c *Cursor) ([][]byte, error) {
	defer func() { _ = c.Close(ctx) }()

	var out [][]byte
	for {
		item, err := c.Advance(ctx)
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = ioutil.Discard
	return logrus.NewEntry(l)
}
