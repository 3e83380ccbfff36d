package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/otel"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/transport"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// State is the connection state of a client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
)

// DiagnosticCallback receives server diagnostics pushes.
type DiagnosticCallback func(params lsp.PublishDiagnosticsParams)

// ConnectionListener observes connection-state changes.
type ConnectionListener func(state State)

// Config configures a client instance. The connection kind is immutable
// after construction.
type Config struct {
	Kind      lsp.ConnectionKind
	Transport transport.Options
	RootURI   string
	Info      lsp.ClientInfo

	RequestTimeout    time.Duration // default 30s
	InitializeTimeout time.Duration // default 15s
	ShutdownTimeout   time.Duration // default 5s
	HeartbeatInterval time.Duration // default 15s, 0 disables

	AutoReconnect        bool
	ReconnectBase        time.Duration // default 500ms
	ReconnectMax         time.Duration // default 30s
	MaxReconnectAttempts int           // default 5
}

func (c *Config) normalize() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.InitializeTimeout == 0 {
		c.InitializeTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = 500 * time.Millisecond
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
}

// Client connects to one analysis server over one transport and exposes the
// typed analysis operations. All inbound traffic flows through a single
// message-loop goroutine; a heartbeat goroutine runs for stream and socket
// kinds while ready.
type Client struct {
	cfg     Config
	metrics *otel.Metrics

	mu         sync.Mutex
	state      State
	tr         transport.Transport
	handler    *Handler
	stopLoops  context.CancelFunc
	loopsDone  chan struct{}
	stopHB     context.CancelFunc
	hbDone     chan struct{}
	closing    bool
	serverCaps lsp.Capabilities

	listenerMu    sync.Mutex
	connListeners map[uuid.UUID]ConnectionListener
	onDiagnostics DiagnosticCallback
}

// NewClient creates a client for the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("unknown connection kind %q", cfg.Kind)
	}
	cfg.normalize()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	return &Client{
		cfg:           cfg,
		metrics:       metrics,
		state:         StateDisconnected,
		connListeners: make(map[uuid.UUID]ConnectionListener),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the client can issue operations.
func (c *Client) Ready() bool { return c.State() == StateReady }

// Kind returns the immutable connection kind.
func (c *Client) Kind() lsp.ConnectionKind { return c.cfg.Kind }

// ServerCapabilities returns the capability map cached at initialize.
func (c *Client) ServerCapabilities() lsp.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCaps
}

// PID returns the analysis-server process id for process-backed transports.
func (c *Client) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if po, ok := c.tr.(transport.ProcessOwner); ok {
		return po.PID()
	}
	return 0
}

// Alive probes transport liveness: the channel is connected and, for
// process-backed transports, the process still exists.
func (c *Client) Alive() bool {
	c.mu.Lock()
	tr := c.tr
	state := c.state
	c.mu.Unlock()

	if state != StateReady || tr == nil || !tr.Connected() {
		return false
	}
	if po, ok := tr.(transport.ProcessOwner); ok {
		return po.Alive()
	}
	return true
}

// OnConnectionChange registers a listener for state changes and returns a
// handle for removal.
func (c *Client) OnConnectionChange(fn ConnectionListener) uuid.UUID {
	id := uuid.New()
	c.listenerMu.Lock()
	c.connListeners[id] = fn
	c.listenerMu.Unlock()
	return id
}

// RemoveConnectionListener removes a previously registered listener.
func (c *Client) RemoveConnectionListener(id uuid.UUID) {
	c.listenerMu.Lock()
	delete(c.connListeners, id)
	c.listenerMu.Unlock()
}

// SetDiagnosticCallback sets the callback invoked on diagnostics pushes.
func (c *Client) SetDiagnosticCallback(fn func(params lsp.PublishDiagnosticsParams)) {
	c.listenerMu.Lock()
	c.onDiagnostics = fn
	c.listenerMu.Unlock()
}

// Connect establishes the transport, runs the initialize handshake, and
// starts the message and heartbeat loops. On any failure everything
// partially acquired is released and the client stays disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s", c.state)
	}
	c.closing = false
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	tr, err := transport.New(c.cfg.Kind, c.cfg.Transport)
	if err != nil {
		c.setDisconnected()
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		_ = tr.Close()
		c.setDisconnected()
		return &domain.ConnectionError{Kind: string(c.cfg.Kind), Err: err}
	}

	handler := NewHandler(tr)
	handler.OnNotification(lsp.MethodDiagnosticsUpdated, c.handleDiagnosticsPush)

	loopCtx, cancel := context.WithCancel(context.Background())
	loopsDone := make(chan struct{})

	c.mu.Lock()
	c.tr = tr
	c.handler = handler
	c.stopLoops = cancel
	c.loopsDone = loopsDone
	c.state = StateInitializing
	c.mu.Unlock()
	c.notifyState(StateInitializing)

	go c.readLoop(loopCtx, tr, handler, loopsDone)

	caps, err := handler.Initialize(ctx, c.cfg.Info, c.cfg.RootURI, c.cfg.InitializeTimeout)
	if err != nil {
		cancel()
		_ = tr.Close()
		<-loopsDone
		c.mu.Lock()
		c.tr = nil
		c.handler = nil
		c.mu.Unlock()
		c.setDisconnected()
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	if c.tr == nil {
		// The transport died between the initialize response and here; the
		// read loop already released everything and reported disconnected.
		c.mu.Unlock()
		return &domain.ConnectionError{Kind: string(c.cfg.Kind), Err: domain.ErrNotConnected}
	}
	c.serverCaps = caps
	c.state = StateReady
	hbDone := make(chan struct{})
	c.hbDone = hbDone

	// Heartbeat applies to stream and socket kinds only; HTTP round trips
	// carry their own liveness signal. It gets its own context so Disconnect
	// can stop it ahead of the shutdown handshake.
	if c.cfg.Kind != lsp.ConnHTTP && c.cfg.HeartbeatInterval > 0 {
		hbCtx, hbCancel := context.WithCancel(loopCtx)
		c.stopHB = hbCancel
		go c.heartbeatLoop(hbCtx, handler, hbDone)
	} else {
		close(hbDone)
	}
	c.mu.Unlock()

	slog.Info("analysis client ready", "kind", c.cfg.Kind, "root", c.cfg.RootURI)
	c.notifyState(StateReady)
	return nil
}

// Disconnect runs the shutdown handshake and releases the transport. It is
// idempotent: disconnecting a disconnected client is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	handler := c.handler
	tr := c.tr
	cancel := c.stopLoops
	loopsDone := c.loopsDone
	stopHB := c.stopHB
	hbDone := c.hbDone
	c.tr = nil
	c.handler = nil
	c.stopLoops = nil
	c.stopHB = nil
	c.mu.Unlock()

	// The heartbeat stops and is joined before the handshake so a ping never
	// lands between the shutdown request and the exit notification; the read
	// loop stays up to carry the shutdown response.
	if stopHB != nil {
		stopHB()
	}
	if hbDone != nil {
		<-hbDone
	}
	if handler != nil && tr != nil && tr.Connected() {
		if err := handler.Shutdown(ctx, c.cfg.ShutdownTimeout); err != nil {
			slog.Warn("shutdown handshake failed", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}
	if loopsDone != nil {
		<-loopsDone
	}

	c.setDisconnected()
	slog.Info("analysis client disconnected", "kind", c.cfg.Kind)
	return nil
}

// GetComprehensiveErrors issues the whole-workspace error query.
func (c *Client) GetComprehensiveErrors(ctx context.Context, params lsp.ComprehensiveErrorsParams) (*lsp.AnalysisResult, error) {
	return c.analysisCall(ctx, lsp.MethodComprehensiveErrors, params)
}

// GetFileErrors queries errors for a single file.
func (c *Client) GetFileErrors(ctx context.Context, uri string) (*lsp.AnalysisResult, error) {
	return c.analysisCall(ctx, lsp.MethodFileErrors, lsp.FileErrorsParams{URI: uri})
}

// AnalyzeCodebase runs a bulk analysis pass over the workspace.
func (c *Client) AnalyzeCodebase(ctx context.Context, root string, include, exclude []string) (*lsp.AnalysisResult, error) {
	return c.analysisCall(ctx, lsp.MethodAnalyzeCodebase, lsp.AnalyzeCodebaseParams{
		RootPath: root,
		Include:  include,
		Exclude:  exclude,
	})
}

// AnalyzeFile runs analysis for a single file.
func (c *Client) AnalyzeFile(ctx context.Context, uri string) (*lsp.AnalysisResult, error) {
	return c.analysisCall(ctx, lsp.MethodAnalyzeFile, lsp.AnalyzeFileParams{URI: uri})
}

// RefreshAnalysis asks the server to drop cached results and re-analyze.
func (c *Client) RefreshAnalysis(ctx context.Context) (*lsp.AnalysisResult, error) {
	return c.analysisCall(ctx, lsp.MethodRefreshAnalysis, struct{}{})
}

// analysisCall runs one extension request: requires the ready state, bounds
// the wait by the caller deadline or the default request timeout, and
// parses the shared result shape.
func (c *Client) analysisCall(ctx context.Context, method string, params any) (*lsp.AnalysisResult, error) {
	c.mu.Lock()
	handler := c.handler
	ready := c.state == StateReady
	c.mu.Unlock()

	if !ready || handler == nil {
		return nil, &domain.ConnectionError{Kind: string(c.cfg.Kind), Err: domain.ErrNotConnected}
	}

	timeout := c.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	start := time.Now()
	c.metrics.RequestsSent.Add(ctx, 1)
	raw, err := handler.Call(ctx, method, params, timeout)
	c.metrics.RequestDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		var te *domain.TimeoutError
		if errors.As(err, &te) {
			c.metrics.RequestTimeouts.Add(ctx, 1)
		}
		return nil, err
	}

	var result lsp.AnalysisResult
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &domain.ProtocolError{Reason: "invalid analysis result", Err: err}
		}
	}
	if result.Files == nil {
		result.Files = map[string][]lsp.Diagnostic{}
	}
	return &result, nil
}

// readLoop is the single inbound message task. Notifications are processed
// strictly in arrival order here, which is what keeps cache updates for a
// file ordered without locking.
func (c *Client) readLoop(ctx context.Context, tr transport.Transport, handler *Handler, done chan struct{}) {
	defer close(done)

	for {
		data, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosing() {
				return
			}
			slog.Warn("transport receive failed", "kind", c.cfg.Kind, "error", err)
			go c.handleTransportLoss(err)
			return
		}

		reply, err := handler.HandleMessage(data)
		if err != nil {
			// Malformed inbound traffic is logged and dropped; the loop
			// keeps running.
			slog.Warn("dropping malformed message", "error", err)
			continue
		}
		if reply != nil {
			if out, err := reply.Encode(); err == nil {
				_ = tr.Send(ctx, out)
			}
		}
	}
}

// heartbeatLoop sends periodic pings while ready. A failed send is treated
// exactly like a transport loss.
func (c *Client) heartbeatLoop(ctx context.Context, handler *Handler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateReady {
				return
			}
			if err := handler.Notify(ctx, lsp.MethodPing, nil); err != nil {
				if c.isClosing() {
					return
				}
				slog.Warn("heartbeat failed", "kind", c.cfg.Kind, "error", err)
				go c.handleTransportLoss(err)
				return
			}
		}
	}
}

// handleTransportLoss releases all connection resources and, when
// auto-reconnect is enabled, schedules bounded reconnect attempts.
func (c *Client) handleTransportLoss(cause error) {
	c.mu.Lock()
	if c.closing || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	tr := c.tr
	cancel := c.stopLoops
	c.tr = nil
	c.handler = nil
	c.stopLoops = nil
	c.stopHB = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		_ = tr.Close()
	}
	slog.Warn("transport lost", "kind", c.cfg.Kind, "error", cause)
	c.notifyState(StateDisconnected)

	if c.cfg.AutoReconnect {
		go c.reconnect()
	}
}

// reconnect retries Connect with exponential backoff, base*2^attempt capped
// at the configured maximum, giving up after the attempt ceiling.
func (c *Client) reconnect() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.ReconnectBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = c.cfg.ReconnectMax
	policy.Reset()

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		wait := policy.NextBackOff()
		time.Sleep(wait)

		if c.isClosing() {
			return
		}

		c.metrics.Reconnects.Add(context.Background(), 1)
		slog.Info("reconnecting", "kind", c.cfg.Kind, "attempt", attempt, "waited", wait)

		err := c.Connect(context.Background())
		if err == nil {
			return
		}
		slog.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
	slog.Error("reconnect attempts exhausted, staying disconnected",
		"kind", c.cfg.Kind, "attempts", c.cfg.MaxReconnectAttempts)
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notifyState(StateDisconnected)
}

// notifyState fans a state change out to listeners. Panics are contained
// per listener so one bad callback cannot block the rest.
func (c *Client) notifyState(state State) {
	c.listenerMu.Lock()
	listeners := make([]ConnectionListener, 0, len(c.connListeners))
	for _, fn := range c.connListeners {
		listeners = append(listeners, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("connection listener panicked", "panic", r)
				}
			}()
			fn(state)
		}()
	}
}

// handleDiagnosticsPush parses the server push and forwards it to the
// registered diagnostic callback.
func (c *Client) handleDiagnosticsPush(_ string, params json.RawMessage) {
	var p lsp.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		slog.Warn("invalid diagnostics push", "error", err)
		return
	}

	c.metrics.DiagnosticsReceived.Add(context.Background(), int64(len(p.Diagnostics)))

	c.listenerMu.Lock()
	fn := c.onDiagnostics
	c.listenerMu.Unlock()
	if fn != nil {
		fn(p)
	}
}
