package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a graph, collection or entity does not
	// exist on the server.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPreconditionCombination is returned when both an if-match
	// and an if-none-match revision are supplied for the same call.
	ErrInvalidPreconditionCombination = errors.New("if-match and if-none-match revisions are mutually exclusive")

	// ErrRevisionMismatch is returned when the server rejects a call because
	// the entity revision did not satisfy the attached precondition.
	ErrRevisionMismatch = errors.New("revision mismatch")

	// ErrDuplicateDefinitionName is returned when an edge definition with
	// the same name is already part of a graph.
	ErrDuplicateDefinitionName = errors.New("duplicate edge definition name")

	// ErrCollectionStillReferenced is reported when a collection drop is
	// refused because another graph still uses the collection.
	ErrCollectionStillReferenced = errors.New("collection still referenced by another graph")

	// ErrReferencesUnknown is reported when a collection drop is refused
	// because the set of graphs referencing it could not be determined.
	ErrReferencesUnknown = errors.New("collection references unknown")

	// ErrCursorClosed is returned when advancing a cursor that was closed.
	ErrCursorClosed = errors.New("cursor closed")

	// ErrCursorExhausted is returned when advancing a cursor that already
	// reported its last element. It matches ErrCursorClosed.
	ErrCursorExhausted = fmt.Errorf("%w: cursor exhausted", ErrCursorClosed)

	// ErrConcurrentAdvance is returned when a cursor is advanced while
	// another advance call is still in flight.
	ErrConcurrentAdvance = errors.New("cursor advanced concurrently")

	// ErrTransportFailure is matched by every error raised by the
	// transport executor (network errors, timeouts, cancellations).
	ErrTransportFailure = errors.New("transport failure")

	// ErrInvalidArgument is returned by local argument checks that run
	// before any request is sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrServer is matched by server-reported failures that do not map to a
	// more specific condition.
	ErrServer = errors.New("server error")
)

// RevisionMismatchError describes a precondition the server refused.
type RevisionMismatchError struct {
	// Handle of the entity the call targeted (collection/key).
	Handle string

	// Precondition attached to the failed call.
	Precondition Precondition

	// Current is the live revision reported by the server, if any.
	Current string
}

func (e *RevisionMismatchError) Error() string {
	msg := fmt.Sprintf("%s: %s: attempted %s", ErrRevisionMismatch, e.Handle, e.Precondition)
	if e.Current != "" {
		msg += ", current revision " + e.Current
	}
	return msg
}

// Is allows errors.Is(err, ErrRevisionMismatch).
func (e *RevisionMismatchError) Is(target error) bool { return target == ErrRevisionMismatch }

// DuplicateDefinitionError names the edge definition that already exists.
type DuplicateDefinitionError struct {
	Database, Graph, Name string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("%s: %q in graph %s/%s", ErrDuplicateDefinitionName, e.Name, e.Database, e.Graph)
}

// Is allows errors.Is(err, ErrDuplicateDefinitionName).
func (e *DuplicateDefinitionError) Is(target error) bool { return target == ErrDuplicateDefinitionName }

// CollectionStillReferencedError lists the graphs still using a collection
// that a caller asked to drop.
type CollectionStillReferencedError struct {
	Database   string
	Collection string
	Graphs     []string
}

func (e *CollectionStillReferencedError) Error() string {
	return fmt.Sprintf("%s: %s/%s used by [%s]", ErrCollectionStillReferenced, e.Database, e.Collection, strings.Join(e.Graphs, ", "))
}

// Is allows errors.Is(err, ErrCollectionStillReferenced).
func (e *CollectionStillReferencedError) Is(target error) bool {
	return target == ErrCollectionStillReferenced
}

// NotFoundError identifies the missing graph, collection or entity.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Name, ErrNotFound)
}

// Is allows errors.Is(err, ErrNotFound).
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ServerError carries a server-reported failure verbatim.
type ServerError struct {
	Op      string
	Status  string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, ErrServer, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s): %s", e.Op, ErrServer, e.Status, e.Message)
}

// Is allows errors.Is(err, ErrServer).
func (e *ServerError) Is(target error) bool { return target == ErrServer }

// TransportError wraps the opaque cause of a transport failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrTransportFailure, e.Err)
}

// Unwrap returns the underlying cause so that callers can match timeouts
// (e.g. context.DeadlineExceeded).
func (e *TransportError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrTransportFailure).
func (e *TransportError) Is(target error) bool { return target == ErrTransportFailure }
