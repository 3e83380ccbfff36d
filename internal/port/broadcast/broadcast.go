// Package broadcast defines the port for publishing subsystem events to
// interested outside consumers (dashboards, workflow glue). The core works
// with a nil Broadcaster.
package broadcast

import "context"

// Event types published by the subsystem.
const (
	EventServerStatus       = "lsp.server.status"
	EventDiagnosticsUpdated = "lsp.diagnostics.updated"
)

// Broadcaster publishes a typed event. Implementations must be non-blocking
// from the caller's point of view or bounded by their own timeouts.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// ServerStatusEvent is the payload of EventServerStatus.
type ServerStatusEvent struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DiagnosticsEvent is the payload of EventDiagnosticsUpdated.
type DiagnosticsEvent struct {
	URI   string `json:"uri"`
	Count int    `json:"count"`
}
