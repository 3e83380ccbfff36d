package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

const defaultDialTimeout = 10 * time.Second

// tcpTransport frames payloads over a raw TCP connection.
type tcpTransport struct {
	opts Options

	mu     sync.Mutex // guards writes and connect/close transitions
	conn   net.Conn
	reader *bufio.Reader

	connected atomic.Bool
	closeOnce sync.Once
}

func newTCP(opts Options) *tcpTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &tcpTransport{opts: opts}
}

func (t *tcpTransport) Kind() lsp.ConnectionKind { return lsp.ConnTCP }

func (t *tcpTransport) Connected() bool { return t.connected.Load() }

func (t *tcpTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}

	addr := net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, 64*1024)
	t.closeOnce = sync.Once{}
	t.connected.Store(true)

	slog.Debug("tcp transport connected", "addr", addr)
	return nil
}

func (t *tcpTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected.Load() {
		return fmt.Errorf("tcp transport: not connected")
	}
	return WriteFrame(t.conn, payload)
}

func (t *tcpTransport) Receive(_ context.Context) ([]byte, error) {
	reader := t.reader
	if !t.connected.Load() || reader == nil {
		return nil, io.EOF
	}
	return ReadFrame(reader)
}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}
