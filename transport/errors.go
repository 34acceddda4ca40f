package transport

import (
	"errors"
	"fmt"

	"github.com/ejacobg/graphdriver/graph"
	"golang.org/x/xerrors"
)

// StatusError is returned by executors when the server rejected a cursor
// call with a non-success status.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// Classify converts an error returned by an Executor into the driver error
// taxonomy. Server rejections keep their category; everything else becomes
// a *graph.TransportError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return StatusToError(op, statusErr.Status, statusErr.Message)
	}
	return &graph.TransportError{Op: op, Err: xerrors.Errorf("executor: %w", err)}
}

// StatusToError maps a non-success status category to an error. Revision
// conflicts are not handled here; see the revision package.
func StatusToError(op string, status Status, message string) error {
	switch status {
	case StatusNotFound:
		return &graph.NotFoundError{Kind: op, Name: message}
	case StatusBadRequest:
		return fmt.Errorf("%s: %w: %s", op, graph.ErrInvalidArgument, message)
	default:
		return &graph.ServerError{Op: op, Status: status.String(), Message: message}
	}
}

// CheckResponse returns nil for successful responses and the mapped error
// otherwise.
func CheckResponse(op string, resp *Response) error {
	if resp.Status.Success() {
		return nil
	}
	return StatusToError(op, resp.Status, resp.Message)
}
