// Package domain provides shared domain-level error types for the
// analysis-client subsystem.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotConnected indicates an operation required a ready connection.
var ErrNotConnected = errors.New("client is not connected")

// ConnectionError indicates the transport was never established or was lost.
type ConnectionError struct {
	Kind string // transport kind: stdio, tcp, websocket, http
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error (%s)", e.Kind)
	}
	return fmt.Sprintf("connection error (%s): %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError indicates no matching response arrived within the bound.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.Timeout)
}

// ProtocolError indicates a malformed or unexpected message shape.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol error: " + e.Reason
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
