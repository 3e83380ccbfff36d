// Package transport implements the byte-level channels an analysis client
// can speak over: a stdio subprocess, a raw TCP socket, a websocket, and a
// request-per-call HTTP endpoint. Stream kinds carry Content-Length framed
// payloads; the websocket maps one message to one frame; HTTP funnels each
// response into the common receive path so callers read all kinds the same
// way.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// Transport is a byte channel for framed protocol payloads. Connect must
// fully release partially acquired resources on failure. Close is idempotent
// and best-effort.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	Kind() lsp.ConnectionKind
	Connected() bool
}

// ProcessOwner is implemented by transports that own an OS process.
type ProcessOwner interface {
	PID() int
	Alive() bool
}

// Options configures transport construction.
type Options struct {
	Command     []string          // stdio: server launch command
	Dir         string            // stdio: working directory
	Env         map[string]string // stdio: extra environment
	Host        string            // tcp/websocket/http
	Port        int               // tcp/websocket/http
	Path        string            // websocket/http URL path, default "/"
	DialTimeout time.Duration     // tcp/websocket/http connect bound
	KillGrace   time.Duration     // stdio: delay between terminate and kill
}

// New constructs a transport for the given connection kind.
func New(kind lsp.ConnectionKind, opts Options) (Transport, error) {
	switch kind {
	case lsp.ConnStdio:
		return newStdio(opts), nil
	case lsp.ConnTCP:
		return newTCP(opts), nil
	case lsp.ConnWebSocket:
		return newWebSocket(opts), nil
	case lsp.ConnHTTP:
		return newHTTP(opts), nil
	default:
		return nil, fmt.Errorf("unknown connection kind %q", kind)
	}
}
