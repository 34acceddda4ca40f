package cdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// rowCursor streams the matching rows of a traversal query. It keeps one
// result of lookahead so that it can tell whether another batch follows.
type rowCursor struct {
	rows    *sql.Rows
	target  transport.Target
	filters []graph.Filter
	codec   func(catalog.Entity) ([]byte, error)
	decode  func([]byte, *catalog.Entity) error

	seen    map[string]bool
	lastErr error
	latched []byte

	batchSize int
	count     int64
	hasCount  bool
}

// advance moves the cursor to the next matching row.
func (c *rowCursor) advance() bool {
	for c.lastErr == nil && c.rows.Next() {
		var (
			neighbour string
			raw       []byte
		)
		if c.lastErr = c.rows.Scan(&neighbour, &raw); c.lastErr != nil {
			return false
		}
		if c.target == transport.TargetVertices && c.seen[neighbour] {
			continue
		}

		e := make(catalog.Entity)
		if c.lastErr = c.decode(raw, &e); c.lastErr != nil {
			return false
		}
		if !catalog.Match(e, c.filters) {
			continue
		}
		c.seen[neighbour] = true

		if c.latched, c.lastErr = c.codec(e); c.lastErr != nil {
			return false
		}
		return true
	}
	if c.lastErr == nil {
		c.lastErr = c.rows.Err()
	}
	c.latched = nil
	return false
}

// next collects the following batch. The returned batch has HasMore set if
// the lookahead holds another result.
func (c *rowCursor) next(id string) (*transport.Batch, error) {
	b := &transport.Batch{Count: c.count, HasCount: c.hasCount}
	for c.latched != nil && (c.batchSize <= 0 || len(b.Results) < c.batchSize) {
		b.Results = append(b.Results, c.latched)
		c.advance()
	}
	if c.lastErr != nil {
		return nil, fmt.Errorf("traversal cursor: %w", c.lastErr)
	}
	if c.latched != nil {
		b.HasMore = true
		b.CursorID = id
	}
	return b, nil
}

func (c *rowCursor) close() error {
	if err := c.rows.Close(); err != nil {
		return fmt.Errorf("traversal cursor: %w", err)
	}
	return nil
}

// OpenCursors returns the number of live server cursors.
func (ex *Executor) OpenCursors() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return len(ex.cursors)
}

// Query implements transport.Executor. Rows are read lazily; a cursor is
// registered only if the first batch does not hold every result.
func (ex *Executor) Query(ctx context.Context, q *transport.Query) (*transport.Batch, error) {
	stmt, args, err := ex.prepareTraversal(ctx, q)
	if err != nil {
		return nil, err
	}

	c := &rowCursor{
		target:    q.Target,
		filters:   q.Traversal.Filters,
		codec:     func(e catalog.Entity) ([]byte, error) { return ex.codec.Marshal(e) },
		decode:    func(raw []byte, e *catalog.Entity) error { return ex.codec.Unmarshal(raw, e) },
		batchSize: q.Traversal.BatchSize,
		hasCount:  q.Traversal.Count,
	}
	if c.hasCount {
		if c.count, err = ex.countMatches(ctx, c, stmt, args); err != nil {
			return nil, err
		}
	}

	// The rows outlive the request context when the cursor is kept.
	c.seen = make(map[string]bool)
	if c.rows, err = ex.db.QueryContext(context.Background(), stmt, args...); err != nil {
		return nil, fmt.Errorf("traversal: %w", err)
	}
	c.advance()

	id := uuid.New().String()
	b, err := c.next(id)
	if err != nil || !b.HasMore {
		_ = c.close()
		return b, err
	}

	ex.mu.Lock()
	ex.cursors[id] = c
	ex.mu.Unlock()
	return b, nil
}

// countMatches runs stmt to completion and counts the results that pass the
// cursor's filters.
func (ex *Executor) countMatches(ctx context.Context, proto *rowCursor, stmt string, args []interface{}) (int64, error) {
	rows, err := ex.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("traversal count: %w", err)
	}
	counter := *proto
	counter.rows = rows
	counter.seen = make(map[string]bool)
	counter.codec = func(catalog.Entity) ([]byte, error) { return []byte{}, nil }
	defer func() { _ = counter.close() }()

	var n int64
	for counter.advance() {
		n++
	}
	if counter.lastErr != nil {
		return 0, fmt.Errorf("traversal count: %w", counter.lastErr)
	}
	return n, nil
}

// FetchBatch implements transport.Executor.
func (ex *Executor) FetchBatch(ctx context.Context, cursorID string) (*transport.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	c := ex.cursors[cursorID]
	if c == nil {
		return nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "cursor " + cursorID}
	}
	b, err := c.next(cursorID)
	if err != nil || !b.HasMore {
		delete(ex.cursors, cursorID)
		_ = c.close()
	}
	return b, err
}

// ReleaseCursor implements transport.Executor.
func (ex *Executor) ReleaseCursor(ctx context.Context, cursorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	c := ex.cursors[cursorID]
	if c == nil {
		return &transport.StatusError{Status: transport.StatusNotFound, Message: "cursor " + cursorID}
	}
	delete(ex.cursors, cursorID)
	return c.close()
}

// prepareTraversal validates q and builds the SQL statement that yields the
// neighbour handle and candidate body of every traversal step, in server
// order.
func (ex *Executor) prepareTraversal(ctx context.Context, q *transport.Query) (string, []interface{}, error) {
	cat, err := ex.loadCatalog(ctx, ex.db, q.Database)
	if err != nil {
		return "", nil, err
	}
	g, err := cat.Graph(q.Graph)
	if err != nil {
		return "", nil, err
	}
	t := q.Traversal

	startCol, _, splitErr := graph.SplitHandle(t.StartVertex)
	if splitErr != nil || cat.Collections[startCol] != catalog.VertexKind {
		return "", nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "vertex " + t.StartVertex}
	}
	found, err := existsFn(ctx, ex.db, q.Database)(t.StartVertex)
	if err != nil {
		return "", nil, err
	} else if !found {
		return "", nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "vertex " + t.StartVertex}
	}
	if err = catalog.CheckFilters(t.Filters); err != nil {
		return "", nil, err
	}
	if err = catalog.CheckDirection(t.Direction); err != nil {
		return "", nil, err
	}

	var endpoint, neighbour string
	switch t.Direction {
	case graph.Outbound:
		endpoint, neighbour = "e.from_handle = $3", "e.to_handle"
	case graph.Inbound:
		endpoint, neighbour = "e.to_handle = $3", "e.from_handle"
	default:
		endpoint = "(e.from_handle = $3 OR e.to_handle = $3)"
		neighbour = "CASE WHEN e.from_handle = $3 THEN e.to_handle ELSE e.from_handle END"
	}

	var sb strings.Builder
	args := []interface{}{q.Database, pq.Array(g.EdgeCollections()), t.StartVertex}
	if q.Target == transport.TargetVertices {
		fmt.Fprintf(&sb, "SELECT %s, v.body FROM documents e JOIN documents v ON v.db = e.db AND v.handle = %s", neighbour, neighbour)
	} else {
		fmt.Fprintf(&sb, "SELECT %s, e.body FROM documents e", neighbour)
	}
	fmt.Fprintf(&sb, " WHERE e.db = $1 AND e.collection = ANY($2) AND %s", endpoint)
	if len(t.Labels) > 0 {
		args = append(args, pq.Array(t.Labels))
		sb.WriteString(" AND e.label = ANY($4)")
	}
	sb.WriteString(" ORDER BY e.collection, e.seq")
	return sb.String(), args, nil
}
