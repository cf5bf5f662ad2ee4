package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by a Session that has lost its transport.
	// Publishers report it back with ConnectionManager.ReportFailure.
	ErrNotConnected = errors.New("broker session not connected")
	// ErrClosed is returned by EnsureConnected after Close.
	ErrClosed = errors.New("connection manager closed")
)

// ConnectionError means a connect or reconnect cycle used up its retries.
// It can only happen with a finite retry count.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
