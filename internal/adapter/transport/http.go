package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// httpTransport performs one HTTP POST per send. The response body of each
// round trip is queued for Receive, so callers consume responses through the
// same inbound path as every other transport kind.
type httpTransport struct {
	opts   Options
	client *http.Client

	respQ chan []byte
	done  chan struct{}

	connected atomic.Bool
	closeOnce sync.Once
}

func newHTTP(opts Options) *httpTransport {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &httpTransport{opts: opts}
}

func (t *httpTransport) Kind() lsp.ConnectionKind { return lsp.ConnHTTP }

func (t *httpTransport) Connected() bool { return t.connected.Load() }

func (t *httpTransport) url() string {
	return fmt.Sprintf("http://%s:%d%s", t.opts.Host, t.opts.Port, t.opts.Path)
}

func (t *httpTransport) Connect(_ context.Context) error {
	if t.connected.Load() {
		return nil
	}
	t.client = &http.Client{Timeout: t.opts.DialTimeout}
	t.respQ = make(chan []byte, 64)
	t.done = make(chan struct{})
	t.closeOnce = sync.Once{}
	t.connected.Store(true)
	return nil
}

// Send posts the payload. A non-empty response body is the protocol
// response and is queued for Receive; notifications get an empty body back.
func (t *httpTransport) Send(ctx context.Context, payload []byte) error {
	if !t.connected.Load() {
		return fmt.Errorf("http transport: not connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", t.url(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", t.url(), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(body) == 0 {
		return nil
	}

	select {
	case t.respQ <- body:
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *httpTransport) Receive(ctx context.Context) ([]byte, error) {
	if !t.connected.Load() {
		return nil, io.EOF
	}
	select {
	case body := <-t.respQ:
		return body, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *httpTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		if t.done != nil {
			close(t.done)
		}
		if t.client != nil {
			t.client.CloseIdleConnections()
		}
	})
	return nil
}
