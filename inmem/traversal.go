package inmem

import (
	"context"
	"fmt"
	"time"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/google/uuid"
)

// serverCursor holds the pending results of a traversal query.
type serverCursor struct {
	results   [][]byte
	batchSize int
	count     int64
	hasCount  bool
	lastUsed  time.Time
}

// OpenCursors returns the number of live server cursors.
func (ex *Executor) OpenCursors() int {
	ex.cmu.Lock()
	defer ex.cmu.Unlock()
	return len(ex.cursors)
}

// Fetches returns the number of FetchBatch calls served so far.
func (ex *Executor) Fetches() int {
	ex.cmu.Lock()
	defer ex.cmu.Unlock()
	return ex.fetches
}

// Query implements transport.Executor.
func (ex *Executor) Query(ctx context.Context, q *transport.Query) (*transport.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := ex.traverse(q)
	if err != nil {
		return nil, err
	}

	sc := &serverCursor{
		results:   results,
		batchSize: q.Traversal.BatchSize,
		count:     int64(len(results)),
		hasCount:  q.Traversal.Count,
	}
	if sc.batchSize <= 0 {
		sc.batchSize = len(results)
	}

	ex.cmu.Lock()
	defer ex.cmu.Unlock()
	id := ""
	if len(results) > sc.batchSize {
		for {
			id = uuid.New().String()
			if ex.cursors[id] == nil {
				break
			}
		}
		ex.cursors[id] = sc
	}
	return sc.next(id, ex.clock.Now()), nil
}

// FetchBatch implements transport.Executor. Cursors idle for longer than
// the configured TTL are gone.
func (ex *Executor) FetchBatch(ctx context.Context, cursorID string) (*transport.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ex.cmu.Lock()
	defer ex.cmu.Unlock()
	ex.fetches++

	sc, err := ex.liveCursor(cursorID)
	if err != nil {
		return nil, err
	}
	b := sc.next(cursorID, ex.clock.Now())
	if !b.HasMore {
		delete(ex.cursors, cursorID)
	}
	return b, nil
}

// ReleaseCursor implements transport.Executor.
func (ex *Executor) ReleaseCursor(ctx context.Context, cursorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ex.cmu.Lock()
	defer ex.cmu.Unlock()
	if _, err := ex.liveCursor(cursorID); err != nil {
		return err
	}
	delete(ex.cursors, cursorID)
	return nil
}

// liveCursor looks up a cursor, expiring it if it sat idle for too long.
// Callers must hold cmu.
func (ex *Executor) liveCursor(id string) (*serverCursor, error) {
	sc := ex.cursors[id]
	if sc == nil {
		return nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "cursor " + id}
	}
	if ex.clock.Now().Sub(sc.lastUsed) > ex.ttl {
		delete(ex.cursors, id)
		return nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "cursor " + id + " expired"}
	}
	return sc, nil
}

// next pops the next batch off the cursor.
func (sc *serverCursor) next(id string, now time.Time) *transport.Batch {
	n := sc.batchSize
	if n > len(sc.results) {
		n = len(sc.results)
	}
	b := &transport.Batch{
		Results:  sc.results[:n:n],
		Count:    sc.count,
		HasCount: sc.hasCount,
	}
	sc.results = sc.results[n:]
	sc.lastUsed = now
	if len(sc.results) > 0 {
		b.HasMore = true
		b.CursorID = id
	}
	return b
}

// traverse evaluates a traversal query against a snapshot of the stored
// documents and returns the encoded results in server order.
func (ex *Executor) traverse(q *transport.Query) ([][]byte, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	d := ex.dbs[q.Database]
	if d == nil {
		return nil, &transport.StatusError{Status: transport.StatusNotFound, Message: fmt.Sprintf("graph %s/%s", q.Database, q.Graph)}
	}
	g, err := d.cat.Graph(q.Graph)
	if err != nil {
		return nil, err
	}
	t := q.Traversal

	startCol, _, splitErr := graph.SplitHandle(t.StartVertex)
	if splitErr != nil || d.cat.Collections[startCol] != catalog.VertexKind || d.lookupHandle(t.StartVertex) == nil {
		return nil, &transport.StatusError{Status: transport.StatusNotFound, Message: "vertex " + t.StartVertex}
	}
	if err = catalog.CheckFilters(t.Filters); err != nil {
		return nil, err
	}
	if err = catalog.CheckDirection(t.Direction); err != nil {
		return nil, err
	}

	var (
		results [][]byte
		seen    = make(map[string]bool)
	)
	for _, name := range g.EdgeCollections() {
		ec := d.docs[name]
		if ec == nil {
			continue
		}
		for _, key := range ec.order {
			e := ec.docs[key]
			neighbour, ok := catalog.Follow(e, t.StartVertex, t.Direction)
			if !ok || !catalog.HasLabel(e, t.Labels) {
				continue
			}

			candidate := e
			if q.Target == transport.TargetVertices {
				if seen[neighbour] {
					continue
				}
				if candidate = d.lookupHandle(neighbour); candidate == nil {
					continue
				}
			}
			if !catalog.Match(candidate, t.Filters) {
				continue
			}
			seen[neighbour] = true

			raw, err := ex.codec.Marshal(candidate)
			if err != nil {
				return nil, fmt.Errorf("encode traversal result: %w", err)
			}
			results = append(results, raw)
		}
	}
	return results, nil
}
