package database

import (
	"errors"
	"fmt"

	"github.com/squishylib/database/datatype"
)

var (
	// ErrConfiguration means the builder's section is missing a backend
	// or enables more than one.
	ErrConfiguration = errors.New("database: configuration error")

	// ErrConnectionFailed means the driver could not open its handle.
	ErrConnectionFailed = errors.New("database: connection failed")

	// ErrInvalidState means an operation was attempted in a lifecycle
	// state that forbids it.
	ErrInvalidState = errors.New("database: invalid state")

	// ErrOverflow means the request queue is at capacity. Only the
	// first over-capacity submission carries it; later ones while the
	// queue stays full complete with ErrCancelled.
	ErrOverflow = errors.New("database: request queue overflow")

	// ErrCancelled is the marker on futures of requests dropped while
	// the queue is overflowing or the database is shut down.
	ErrCancelled = errors.New("database: request cancelled")

	// ErrTypeMismatch re-exports the data-type bridge's mismatch error.
	ErrTypeMismatch = datatype.ErrTypeMismatch

	// ErrDecode re-exports the data-type bridge's decode error.
	ErrDecode = datatype.ErrDecode
)

// DriverError is a backend execution failure. It carries the backend,
// the operation, and the statement or filter that failed, for
// diagnostics.
type DriverError struct {
	Backend   datatype.Backend
	Op        string
	Statement string
	Err       error
}

func (e *DriverError) Error() string {
	if e.Statement == "" {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %q: %v", e.Backend, e.Op, e.Statement, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// WrapDriverError builds a DriverError unless err is nil, a type
// mismatch, or a decode error; those are returned unchanged.
func WrapDriverError(b datatype.Backend, op, statement string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTypeMismatch) || errors.Is(err, ErrDecode) {
		return err
	}
	return &DriverError{Backend: b, Op: op, Statement: statement, Err: err}
}
