package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// wsTransport speaks the protocol over a persistent websocket. One send is
// one websocket message; no extra framing is needed.
type wsTransport struct {
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn

	connected atomic.Bool
	closeOnce sync.Once
}

func newWebSocket(opts Options) *wsTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &wsTransport{opts: opts}
}

func (t *wsTransport) Kind() lsp.ConnectionKind { return lsp.ConnWebSocket }

func (t *wsTransport) Connected() bool { return t.connected.Load() }

func (t *wsTransport) url() string {
	return fmt.Sprintf("ws://%s:%d%s", t.opts.Host, t.opts.Port, t.opts.Path)
}

func (t *wsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, t.url(), nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url(), err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	// Analysis payloads can be large; the default read limit is 32KiB.
	conn.SetReadLimit(16 * 1024 * 1024)

	t.conn = conn
	t.closeOnce = sync.Once{}
	t.connected.Store(true)

	slog.Debug("websocket transport connected", "url", t.url())
	return nil
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if !t.connected.Load() || conn == nil {
		return fmt.Errorf("websocket transport: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if !t.connected.Load() || conn == nil {
		return nil, fmt.Errorf("websocket transport: not connected")
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return nil
}
