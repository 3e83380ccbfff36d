// Package lsp implements the analysis-server protocol layer: a correlation
// handler that pairs responses with pending requests, and a client that owns
// the transport, the message loops, and the typed analysis operations.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/transport"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// NotificationHandler receives inbound server notifications for one method.
type NotificationHandler func(method string, params json.RawMessage)

// Handler serializes outbound traffic, allocates request ids, and resolves
// inbound responses against the pending-request table. One Handler serves
// one transport connection.
type Handler struct {
	tr transport.Transport

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*PendingCall
	handlers map[string][]NotificationHandler

	serverCaps lsp.Capabilities
	capsMu     sync.RWMutex
}

// PendingCall is the awaited result slot for one outstanding request.
type PendingCall struct {
	id      int64
	method  string
	created time.Time
	ch      chan *lsp.Message
}

// ID returns the request id this slot is keyed by.
func (c *PendingCall) ID() int64 { return c.id }

// Done exposes the resolution channel. It yields at most one message.
func (c *PendingCall) Done() <-chan *lsp.Message { return c.ch }

// NewHandler creates a protocol handler bound to the given transport.
func NewHandler(tr transport.Transport) *Handler {
	return &Handler{
		tr:       tr,
		pending:  make(map[int64]*PendingCall),
		handlers: make(map[string][]NotificationHandler),
	}
}

// OnNotification registers a handler for a notification method. Multiple
// handlers per method are allowed and invoked in registration order.
func (h *Handler) OnNotification(method string, fn NotificationHandler) {
	h.mu.Lock()
	h.handlers[method] = append(h.handlers[method], fn)
	h.mu.Unlock()
}

// ServerCapabilities returns the capability map cached during initialize.
func (h *Handler) ServerCapabilities() lsp.Capabilities {
	h.capsMu.RLock()
	defer h.capsMu.RUnlock()
	return h.serverCaps
}

// CreateRequest allocates a fresh id and builds a request message.
func (h *Handler) CreateRequest(method string, params any) (*lsp.Message, error) {
	return lsp.NewRequest(h.nextID.Add(1), method, params)
}

// Track registers a pending slot for the request's id. The slot resolves at
// most once; Cancel removes it without resolving.
func (h *Handler) Track(req *lsp.Message) *PendingCall {
	call := &PendingCall{
		id:      *req.ID,
		method:  req.Method,
		created: time.Now(),
		ch:      make(chan *lsp.Message, 1),
	}
	h.mu.Lock()
	h.pending[call.id] = call
	h.mu.Unlock()
	return call
}

// Cancel removes a pending slot without resolving it. A response arriving
// afterwards for that id is discarded.
func (h *Handler) Cancel(id int64) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// PendingCount returns the number of outstanding requests.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Call sends a request and waits for its response under the given timeout.
// On timeout the pending slot is actively cancelled so a late response
// cannot resurrect the caller.
func (h *Handler) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	req, err := h.CreateRequest(method, params)
	if err != nil {
		return nil, err
	}
	call := h.Track(req)
	defer h.Cancel(call.id)

	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := h.tr.Send(ctx, data); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-call.ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, &domain.TimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (h *Handler) Notify(ctx context.Context, method string, params any) error {
	msg, err := lsp.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := h.tr.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// HandleMessage is the single entry point for inbound traffic. It resolves
// responses, dispatches notifications, and returns a default reply for
// server-originated requests (which this subsystem does not otherwise
// serve). Malformed payloads yield a ProtocolError for the caller to log.
func (h *Handler) HandleMessage(data []byte) (*lsp.Message, error) {
	msg, err := lsp.Decode(data)
	if err != nil {
		return nil, &domain.ProtocolError{Reason: "malformed message", Err: err}
	}

	switch msg.Kind() {
	case lsp.KindResponse:
		h.resolve(msg)
		return nil, nil
	case lsp.KindNotification:
		h.dispatch(msg)
		return nil, nil
	default:
		// Server request (e.g. a configuration pull): answer null so a
		// well-behaved server does not stall waiting on us.
		slog.Debug("answering server request with default", "method", msg.Method, "id", *msg.ID)
		return lsp.NewResponse(*msg.ID, nil)
	}
}

// resolve delivers a response to its pending slot exactly once. Unknown or
// already-cancelled ids are discarded.
func (h *Handler) resolve(msg *lsp.Message) {
	h.mu.Lock()
	call, ok := h.pending[*msg.ID]
	if ok {
		delete(h.pending, *msg.ID)
	}
	h.mu.Unlock()

	if !ok {
		slog.Debug("discarding response for unknown id", "id", *msg.ID)
		return
	}
	// Buffered channel of one; the slot was removed above so this cannot
	// double-resolve.
	call.ch <- msg
}

// dispatch fans a notification out to all registered handlers for its
// method. A panicking handler is contained and logged so the remaining
// handlers still run.
func (h *Handler) dispatch(msg *lsp.Message) {
	h.mu.Lock()
	handlers := h.handlers[msg.Method]
	h.mu.Unlock()

	for _, fn := range handlers {
		h.safeInvoke(msg.Method, msg.Params, fn)
	}
}

func (h *Handler) safeInvoke(method string, params json.RawMessage, fn NotificationHandler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification handler panicked", "method", method, "panic", r)
		}
	}()
	fn(method, params)
}

// Initialize runs the strict initialize handshake: the initialize request,
// then caching the server capability map, then the initialized notification.
// No other traffic may be issued before it completes.
func (h *Handler) Initialize(ctx context.Context, info lsp.ClientInfo, rootURI string, timeout time.Duration) (lsp.Capabilities, error) {
	params := lsp.InitializeParams{
		ClientInfo:   info,
		RootURI:      rootURI,
		Capabilities: lsp.DefaultClientCapabilities(),
	}

	raw, err := h.Call(ctx, lsp.MethodInitialize, params, timeout)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result lsp.InitializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &domain.ProtocolError{Reason: "invalid initialize result", Err: err}
		}
	}

	h.capsMu.Lock()
	h.serverCaps = result.Capabilities
	h.capsMu.Unlock()

	if err := h.Notify(ctx, lsp.MethodInitialized, struct{}{}); err != nil {
		return nil, fmt.Errorf("initialized: %w", err)
	}
	return result.Capabilities, nil
}

// Shutdown runs the symmetric shutdown handshake: the shutdown request
// bounded by the timeout, then the exit notification. Transport teardown is
// the caller's job and happens only after this returns.
func (h *Handler) Shutdown(ctx context.Context, timeout time.Duration) error {
	if _, err := h.Call(ctx, lsp.MethodShutdown, nil, timeout); err != nil {
		slog.Warn("shutdown request failed", "error", err)
	}
	return h.Notify(ctx, lsp.MethodExit, nil)
}
