// Package lsp defines wire-level types for the analysis-server protocol:
// JSON-RPC message shapes, diagnostics, and capability maps. These types are
// transport-independent and shared across the adapter and service layers.
package lsp

// ConnectionKind selects the transport channel for a client instance.
// It is fixed at construction and never changes afterwards.
type ConnectionKind string

const (
	ConnStdio     ConnectionKind = "stdio"
	ConnTCP       ConnectionKind = "tcp"
	ConnWebSocket ConnectionKind = "websocket"
	ConnHTTP      ConnectionKind = "http"
)

// Streaming reports whether the kind carries Content-Length framed streams.
func (k ConnectionKind) Streaming() bool {
	return k == ConnStdio || k == ConnTCP
}

// Valid reports whether k is one of the four supported kinds.
func (k ConnectionKind) Valid() bool {
	switch k {
	case ConnStdio, ConnTCP, ConnWebSocket, ConnHTTP:
		return true
	}
	return false
}

// Position in a text document (0-based line and character on the wire).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic severity values as defined by the protocol.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityInfo    = 3
	SeverityHint    = 4
)

// Diagnostic is a raw finding reported by the analysis server.
type Diagnostic struct {
	Range    Range          `json:"range"`
	Severity int            `json:"severity"` // 1=Error, 2=Warning, 3=Info, 4=Hint
	Message  string         `json:"message"`
	Code     string         `json:"code,omitempty"`
	Source   string         `json:"source,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// PublishDiagnosticsParams is the payload of the server's diagnostics push.
type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}
