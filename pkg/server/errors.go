package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common connection and server error conditions.
var (
	// ErrServerClosed is returned by Listen and Run after Close.
	ErrServerClosed = errors.New("server: server closed")

	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("server: already listening")

	// ErrConnClosed is returned when writing to a connection the reactor has closed.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrQueueClosed is returned by Push and Pop once the dispatch queue is closed.
	ErrQueueClosed = errors.New("server: queue closed")

	// ErrShortWrite is returned when the socket accepted only part of a response.
	ErrShortWrite = errors.New("server: short write")

	// ErrUnsupportedPlatform is returned when no readiness poller exists for the OS.
	ErrUnsupportedPlatform = errors.New("server: readiness polling not supported on this platform")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// ConnError wraps an error with connection context for debugging.
type ConnError struct {
	ConnID uint64
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnError) Error() string {
	if e.ConnID == 0 {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %d: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// NewConnError creates a new ConnError.
func NewConnError(connID uint64, op string, err error) *ConnError {
	return &ConnError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}
