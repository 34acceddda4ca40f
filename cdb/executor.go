// Package cdb provides a transport executor that persists graphs and
// documents in CockroachDB (or any PostgreSQL-compatible database).
package cdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ejacobg/graphdriver/catalog"
	"github.com/ejacobg/graphdriver/codec"
	"github.com/ejacobg/graphdriver/graph"
	"github.com/ejacobg/graphdriver/transport"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Compile-time check for ensuring Executor implements transport.Executor.
var _ transport.Executor = (*Executor)(nil)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS graphs (
		db TEXT NOT NULL,
		name TEXT NOT NULL,
		definition BYTEA NOT NULL,
		PRIMARY KEY (db, name)
	)`,
	`CREATE TABLE IF NOT EXISTS collections (
		db TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (db, name)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL,
		db TEXT NOT NULL,
		collection TEXT NOT NULL,
		doc_key TEXT NOT NULL,
		handle TEXT NOT NULL,
		rev TEXT NOT NULL,
		from_handle TEXT,
		to_handle TEXT,
		label TEXT,
		body BYTEA NOT NULL,
		PRIMARY KEY (db, collection, doc_key)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_handle_idx ON documents (db, handle)`,
	`CREATE INDEX IF NOT EXISTS documents_from_idx ON documents (db, from_handle)`,
	`CREATE INDEX IF NOT EXISTS documents_to_idx ON documents (db, to_handle)`,
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Executor implements transport.Executor on top of a CockroachDB database.
// Entity bodies and graph definitions are stored encoded with the
// executor's codec, so the codec must not change for an existing database.
type Executor struct {
	db    *sql.DB
	codec codec.Codec

	mu      sync.Mutex
	cursors map[string]*rowCursor
}

// NewExecutor returns an executor instance that connects to the
// cockroachdb instance specified by dsn and makes sure the schema exists.
func NewExecutor(dsn string, c codec.Codec) (*Executor, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = codec.JSON
	}

	ex := &Executor{db: db, codec: c, cursors: make(map[string]*rowCursor)}
	if err = ex.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ex, nil
}

func (ex *Executor) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := ex.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Codec returns the codec the executor speaks.
func (ex *Executor) Codec() codec.Codec { return ex.codec }

// Close releases every open cursor and terminates the connection to the
// backing cockroachdb instance.
func (ex *Executor) Close() error {
	ex.mu.Lock()
	for id, rc := range ex.cursors {
		_ = rc.close()
		delete(ex.cursors, id)
	}
	ex.mu.Unlock()
	return ex.db.Close()
}

func newRev() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

func failure(status transport.Status, format string, args ...interface{}) *transport.Response {
	return &transport.Response{Status: status, Message: fmt.Sprintf(format, args...)}
}

// rejected converts a catalog rejection into a response. Any other error is
// passed on as a transport failure.
func rejected(err error) (*transport.Response, error) {
	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		return &transport.Response{Status: statusErr.Status, Message: statusErr.Message}, nil
	}
	return nil, err
}

// inTx runs fn in a serializable transaction. The transaction is committed
// only if fn reports success.
func (ex *Executor) inTx(ctx context.Context, fn func(tx *sql.Tx) (*transport.Response, error)) (*transport.Response, error) {
	tx, err := ex.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	resp, err := fn(tx)
	if err != nil || !resp.Status.Success() {
		_ = tx.Rollback()
		return resp, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return resp, nil
}

// Execute implements transport.Executor.
func (ex *Executor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	switch req.Op {
	case transport.OpListGraphs:
		return ex.listGraphs(ctx, req)
	case transport.OpGetGraph:
		return ex.getGraph(ctx, req)
	case transport.OpCreateGraph:
		return ex.createGraph(ctx, req)
	case transport.OpCreateVertex, transport.OpCreateEdge:
		return ex.inTx(ctx, func(tx *sql.Tx) (*transport.Response, error) { return ex.createEntity(ctx, tx, req) })
	case transport.OpGetVertex, transport.OpGetEdge:
		return ex.getEntity(ctx, req)
	case transport.OpReplaceVertex, transport.OpReplaceEdge, transport.OpUpdateVertex:
		return ex.inTx(ctx, func(tx *sql.Tx) (*transport.Response, error) { return ex.writeEntity(ctx, tx, req) })
	case transport.OpDeleteVertex, transport.OpDeleteEdge:
		return ex.inTx(ctx, func(tx *sql.Tx) (*transport.Response, error) { return ex.deleteEntity(ctx, tx, req) })
	}

	apply, known := schemaOps[req.Op]
	if !known {
		return failure(transport.StatusBadRequest, "unsupported operation %q", req.Op), nil
	}
	var body interface{}
	if req.Op == transport.OpAddEdgeDefinition || req.Op == transport.OpReplaceEdgeDefinition {
		var def graph.EdgeDefinition
		if err := ex.codec.Unmarshal(req.Body, &def); err != nil {
			return failure(transport.StatusBadRequest, "malformed edge definition: %v", err), nil
		}
		if def.Collection == "" {
			def.Collection = req.Collection
		}
		body = def
	}

	return ex.inTx(ctx, func(tx *sql.Tx) (*transport.Response, error) {
		cat, err := ex.loadCatalog(ctx, tx, req.Database)
		if err != nil {
			return nil, err
		}
		result, err := apply(cat, req, body)
		if err != nil {
			return rejected(err)
		}
		if err = ex.saveCatalog(ctx, tx, cat); err != nil {
			return nil, err
		}
		if result == nil {
			return ex.reply(transport.StatusAccepted, map[string]bool{"removed": true})
		}
		return ex.replyGraph(transport.StatusAccepted, result)
	})
}

// schemaOps apply a schema request to a loaded catalog. They return the
// graph to echo, if any.
var schemaOps = map[transport.Op]func(cat *catalog.Catalog, req *transport.Request, body interface{}) (*graph.Graph, error){
	transport.OpDeleteGraph: func(cat *catalog.Catalog, req *transport.Request, _ interface{}) (*graph.Graph, error) {
		return nil, cat.DeleteGraph(req.Graph, req.Param(transport.ParamDropCollections) == "true")
	},
	transport.OpDropCollection: func(cat *catalog.Catalog, req *transport.Request, _ interface{}) (*graph.Graph, error) {
		return nil, cat.DropCollection(req.Collection)
	},
	transport.OpAddVertexCollection: func(cat *catalog.Catalog, req *transport.Request, _ interface{}) (*graph.Graph, error) {
		return cat.AddVertexCollection(req.Graph, req.Collection)
	},
	transport.OpRemoveVertexCollection: func(cat *catalog.Catalog, req *transport.Request, _ interface{}) (*graph.Graph, error) {
		return cat.RemoveVertexCollection(req.Graph, req.Collection, req.Param(transport.ParamDropCollection) == "true")
	},
	transport.OpAddEdgeDefinition: func(cat *catalog.Catalog, req *transport.Request, body interface{}) (*graph.Graph, error) {
		return cat.AddEdgeDefinition(req.Graph, body.(graph.EdgeDefinition))
	},
	transport.OpReplaceEdgeDefinition: func(cat *catalog.Catalog, req *transport.Request, body interface{}) (*graph.Graph, error) {
		g, _, err := cat.ReplaceEdgeDefinition(req.Graph, body.(graph.EdgeDefinition))
		return g, err
	},
	transport.OpRemoveEdgeDefinition: func(cat *catalog.Catalog, req *transport.Request, _ interface{}) (*graph.Graph, error) {
		return cat.RemoveEdgeDefinition(req.Graph, req.Collection, req.Param(transport.ParamDropCollection) == "true")
	},
}

func (ex *Executor) reply(status transport.Status, v interface{}) (*transport.Response, error) {
	body, err := ex.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &transport.Response{Status: status, Body: body}, nil
}

func (ex *Executor) replyGraph(status transport.Status, g *graph.Graph) (*transport.Response, error) {
	resp, err := ex.reply(status, g)
	if err != nil {
		return nil, err
	}
	resp.Revision = g.Revision
	return resp, nil
}

func (ex *Executor) listGraphs(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	cat, err := ex.loadCatalog(ctx, ex.db, req.Database)
	if err != nil {
		return nil, err
	}
	return ex.reply(transport.StatusOK, transport.GraphList{Graphs: cat.List()})
}

func (ex *Executor) getGraph(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	cat, err := ex.loadCatalog(ctx, ex.db, req.Database)
	if err != nil {
		return nil, err
	}
	g, err := cat.Graph(req.Graph)
	if err != nil {
		return rejected(err)
	}
	return ex.replyGraph(transport.StatusOK, g)
}

func (ex *Executor) createGraph(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	var spec graph.Graph
	if err := ex.codec.Unmarshal(req.Body, &spec); err != nil {
		return failure(transport.StatusBadRequest, "malformed graph: %v", err), nil
	}
	if spec.Name == "" {
		spec.Name = req.Graph
	}

	return ex.inTx(ctx, func(tx *sql.Tx) (*transport.Response, error) {
		cat, err := ex.loadCatalog(ctx, tx, req.Database)
		if err != nil {
			return nil, err
		}
		g, err := cat.CreateGraph(&spec)
		if err != nil {
			return rejected(err)
		}
		if err = ex.saveCatalog(ctx, tx, cat); err != nil {
			return nil, err
		}
		return ex.replyGraph(transport.StatusCreated, g)
	})
}

// loadCatalog reads the schema of db.
func (ex *Executor) loadCatalog(ctx context.Context, q querier, db string) (*catalog.Catalog, error) {
	cat := catalog.New(db, newRev)

	rows, err := q.QueryContext(ctx, "SELECT definition FROM graphs WHERE db = $1", db)
	if err != nil {
		return nil, fmt.Errorf("load graphs: %w", err)
	}
	for rows.Next() {
		var raw []byte
		if err = rows.Scan(&raw); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("load graphs: %w", err)
		}
		g := new(graph.Graph)
		if err = ex.codec.Unmarshal(raw, g); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("load graphs: decode: %w", err)
		}
		cat.Graphs[g.Name] = g
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("load graphs: %w", err)
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, "SELECT name, kind FROM collections WHERE db = $1", db)
	if err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name, kind string
		if err = rows.Scan(&name, &kind); err != nil {
			return nil, fmt.Errorf("load collections: %w", err)
		}
		cat.Collections[name] = catalog.Kind(kind)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("load collections: %w", err)
	}
	return cat, nil
}

// saveCatalog writes back the schema of cat and removes the documents of
// dropped collections.
func (ex *Executor) saveCatalog(ctx context.Context, tx *sql.Tx, cat *catalog.Catalog) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM graphs WHERE db = $1", cat.Database); err != nil {
		return fmt.Errorf("save graphs: %w", err)
	}
	for _, g := range cat.List() {
		raw, err := ex.codec.Marshal(g)
		if err != nil {
			return fmt.Errorf("save graphs: encode: %w", err)
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO graphs (db, name, definition) VALUES ($1, $2, $3)", cat.Database, g.Name, raw); err != nil {
			return fmt.Errorf("save graphs: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE db = $1", cat.Database); err != nil {
		return fmt.Errorf("save collections: %w", err)
	}
	for name, kind := range cat.Collections {
		if _, err := tx.ExecContext(ctx, "INSERT INTO collections (db, name, kind) VALUES ($1, $2, $3)", cat.Database, name, string(kind)); err != nil {
			return fmt.Errorf("save collections: %w", err)
		}
	}

	if dropped := cat.TakeDropped(); len(dropped) > 0 {
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE db = $1 AND collection = ANY($2)", cat.Database, pq.Array(dropped))
		if err != nil {
			return fmt.Errorf("drop collections: %w", err)
		}
	}
	return nil
}
