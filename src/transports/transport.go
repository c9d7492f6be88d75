// Package transports defines the wire abstraction shared by every client
// transport: JSON request/response calls plus a line-oriented event stream.
package transports

import (
	"context"
	"fmt"
)

// Transport moves JSON documents to and from a server.
type Transport interface {
	// PostJSON sends body to path and returns the response body.
	PostJSON(ctx context.Context, path string, body []byte) ([]byte, error)
	// GetJSON fetches path.
	GetJSON(ctx context.Context, path string) ([]byte, error)
	// Stream opens the push-event stream at path. Cancelling ctx or closing
	// the result ends it.
	Stream(ctx context.Context, path string) (StreamResult, error)
	Close() error
}

// Logf is the optional transport-level logging hook.
type Logf func(format string, args ...interface{})

// NopLogf discards everything.
func NopLogf(string, ...interface{}) {}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.Code)
}

// UnsupportedError is returned by transports that do not implement an
// operation.
type UnsupportedError struct {
	Transport string
	Op        string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s transport does not support %s", e.Transport, e.Op)
}
