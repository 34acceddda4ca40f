// Package transport defines the contract between the graph driver core and
// the executor that talks to the remote server. The core only builds
// request descriptors and interprets status categories; the executor owns
// wire encoding, connections, timeouts and retries.
package transport

//go:generate mockgen -package mocks -destination mocks/mock_executor.go github.com/ejacobg/graphdriver/transport Executor

import (
	"context"

	"github.com/ejacobg/graphdriver/graph"
)

// Op names a server operation.
type Op string

// Supported server operations.
const (
	OpCreateGraph    Op = "createGraph"
	OpListGraphs     Op = "listGraphs"
	OpGetGraph       Op = "getGraph"
	OpDeleteGraph    Op = "deleteGraph"
	OpDropCollection Op = "dropCollection"

	OpAddVertexCollection    Op = "addVertexCollection"
	OpRemoveVertexCollection Op = "removeVertexCollection"
	OpAddEdgeDefinition      Op = "addEdgeDefinition"
	OpReplaceEdgeDefinition  Op = "replaceEdgeDefinition"
	OpRemoveEdgeDefinition   Op = "removeEdgeDefinition"

	OpCreateVertex  Op = "createVertex"
	OpGetVertex     Op = "getVertex"
	OpReplaceVertex Op = "replaceVertex"
	OpUpdateVertex  Op = "updateVertex"
	OpDeleteVertex  Op = "deleteVertex"

	OpCreateEdge  Op = "createEdge"
	OpGetEdge     Op = "getEdge"
	OpReplaceEdge Op = "replaceEdge"
	OpDeleteEdge  Op = "deleteEdge"
)

// Request header names.
const (
	HeaderIfMatch     = "If-Match"
	HeaderIfNoneMatch = "If-None-Match"

	// HeaderReadRevision carries the advisory revision the caller last
	// read. Servers must not treat it as a precondition.
	HeaderReadRevision = "X-Read-Revision"
)

// Request parameter names.
const (
	ParamWaitForSync     = "waitForSync"
	ParamKeepNull        = "keepNull"
	ParamDropCollection  = "dropCollection"
	ParamDropCollections = "dropCollections"
)

// Header holds request headers.
type Header map[string]string

// Request is a method-agnostic request descriptor.
type Request struct {
	Op         Op
	Database   string
	Graph      string
	Collection string
	Key        string
	Header     Header
	Params     map[string]string

	// Body is the encoded request payload, if any.
	Body []byte
}

// Param returns the value of a request parameter.
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// Status is the category of a server response.
type Status int

// Status categories.
const (
	StatusOK Status = iota
	StatusCreated
	StatusAccepted
	StatusNotModified
	StatusBadRequest
	StatusNotFound
	StatusConflict
	StatusPreconditionFailed
	StatusServerError
)

var statusNames = map[Status]string{
	StatusOK:                 "ok",
	StatusCreated:            "created",
	StatusAccepted:           "accepted",
	StatusNotModified:        "not modified",
	StatusBadRequest:         "bad request",
	StatusNotFound:           "not found",
	StatusConflict:           "conflict",
	StatusPreconditionFailed: "precondition failed",
	StatusServerError:        "server error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Success reports whether the status signals a successful call.
func (s Status) Success() bool {
	return s == StatusOK || s == StatusCreated || s == StatusAccepted
}

// Response is the interpreted server reply.
type Response struct {
	Status Status

	// Body is the encoded response payload.
	Body []byte

	// Revision is the live revision of the addressed entity, when the
	// server reports it (including on precondition failures).
	Revision string

	// Message is the server's error message, if any.
	Message string
}

// GraphList is the wire representation of a graph listing.
type GraphList struct {
	Graphs []*graph.Graph `json:"graphs" msgpack:"graphs"`
}

// Target selects what a traversal query returns.
type Target string

// Traversal targets.
const (
	TargetVertices Target = "vertices"
	TargetEdges    Target = "edges"
)

// Query is the descriptor of a traversal query. The traversal parameters
// are passed through untouched.
type Query struct {
	Database  string
	Graph     string
	Target    Target
	Traversal graph.TraversalQuery
}

// Batch is one page of a server cursor.
type Batch struct {
	// Results holds the encoded elements in server order.
	Results [][]byte

	// HasMore reports whether further batches can be fetched.
	HasMore bool

	// CursorID identifies the server cursor. It is empty when the whole
	// result fit in the first batch.
	CursorID string

	// Count is the total result count, if HasCount is set.
	Count    int64
	HasCount bool
}

// Executor is implemented by objects that can carry requests to the remote
// server.
//
// Execute, Query and FetchBatch return a *StatusError when the server
// rejected the call; any other error is treated as a transport failure.
type Executor interface {
	// Execute performs a single request.
	Execute(ctx context.Context, req *Request) (*Response, error)

	// Query runs a traversal query and returns its first batch.
	Query(ctx context.Context, q *Query) (*Batch, error)

	// FetchBatch returns the next batch of a server cursor.
	FetchBatch(ctx context.Context, cursorID string) (*Batch, error)

	// ReleaseCursor releases a server cursor. It is best-effort.
	ReleaseCursor(ctx context.Context, cursorID string) error
}
