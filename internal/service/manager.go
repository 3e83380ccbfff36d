package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/configstore"
	lspadapter "github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/lsp"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/otel"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/transport"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/config"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/server"
	analysisport "github.com/Zeeeepa/graph-sitter-lsp/internal/port/analysis"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/port/broadcast"
)

// ClientFactory constructs a client for a server config. Swappable in tests.
type ClientFactory func(cfg server.Config) (analysisport.Client, error)

// ServerManager owns the registry of named server configurations, each
// backed by one client instance, and drives start/stop/restart plus the
// per-server health monitor.
type ServerManager struct {
	store     *configstore.Store
	bc        broadcast.Broadcaster // optional
	defaults  config.Client
	manCfg    config.Manager
	metrics   *otel.Metrics
	newClient ClientFactory

	mu      sync.RWMutex
	servers map[string]*managedServer
}

// managedServer is the manager's per-name state. Its mutex serializes the
// lifecycle operations for that server, so status transitions never race.
type managedServer struct {
	mu        sync.Mutex
	info      server.Info
	client    analysisport.Client
	retriever *ErrorRetriever

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	// gen increments on every stop. A health-driven restart captures it at
	// probe time and aborts if a stop landed in between.
	gen uint64
}

// NewServerManager creates a manager persisting configs through store.
func NewServerManager(store *configstore.Store, bc broadcast.Broadcaster, manCfg config.Manager, defaults config.Client) (*ServerManager, error) {
	metrics, err := otel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	m := &ServerManager{
		store:    store,
		bc:       bc,
		defaults: defaults,
		manCfg:   manCfg,
		metrics:  metrics,
		servers:  make(map[string]*managedServer),
	}
	m.newClient = m.buildClient
	return m, nil
}

// SetClientFactory replaces client construction, used by tests.
func (m *ServerManager) SetClientFactory(f ClientFactory) { m.newClient = f }

// buildClient constructs a real protocol client from a server config.
func (m *ServerManager) buildClient(cfg server.Config) (analysisport.Client, error) {
	return lspadapter.NewClient(lspadapter.Config{
		Kind: cfg.ConnectionType,
		Transport: transport.Options{
			Command: cfg.Command,
			Dir:     cfg.WorkingDirectory,
			Env:     cfg.Environment,
			Host:    cfg.Host,
			Port:    cfg.Port,
		},
		RootURI:              "file://" + cfg.WorkingDirectory,
		Info:                 lsp.ClientInfo{Name: "graph-sitter-lsp", Version: "1.0"},
		RequestTimeout:       m.defaults.RequestTimeout,
		InitializeTimeout:    m.defaults.InitializeTimeout,
		ShutdownTimeout:      cfg.ShutdownTimeout,
		HeartbeatInterval:    m.defaults.HeartbeatInterval,
		AutoReconnect:        m.defaults.AutoReconnect,
		ReconnectBase:        m.defaults.ReconnectBase,
		ReconnectMax:         m.defaults.ReconnectMax,
		MaxReconnectAttempts: m.defaults.MaxReconnectAttempts,
	})
}

// LoadPersisted registers every config stored in the configuration
// directory without re-persisting them.
func (m *ServerManager) LoadPersisted() error {
	configs, err := m.store.LoadAll()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range configs {
		if _, exists := m.servers[cfg.Name]; exists {
			continue
		}
		m.servers[cfg.Name] = &managedServer{
			info: server.Info{Config: cfg, Status: server.StatusStopped},
		}
	}
	slog.Info("server configs loaded", "count", len(configs), "dir", m.store.Dir())
	return nil
}

// Register validates and stores a config, creating its record in status
// stopped. Registering an existing name is an error.
func (m *ServerManager) Register(cfg server.Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.servers[cfg.Name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("server %s is already registered", cfg.Name)
	}
	m.servers[cfg.Name] = &managedServer{
		info: server.Info{Config: cfg, Status: server.StatusStopped},
	}
	m.mu.Unlock()

	if err := m.store.Save(cfg); err != nil {
		return fmt.Errorf("persist %s: %w", cfg.Name, err)
	}
	slog.Info("server registered", "server", cfg.Name, "kind", cfg.ConnectionType)
	return nil
}

// Unregister force-stops the server if running, removes it from the
// registry, and deletes its persisted record.
func (m *ServerManager) Unregister(ctx context.Context, name string) error {
	ms, err := m.lookup(name)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	// Exhausted health restarts leave the client attached in status error,
	// so the force-stop keys on the client, not the status alone.
	if ms.info.Status != server.StatusStopping &&
		(ms.client != nil || ms.info.Status == server.StatusRunning || ms.info.Status == server.StatusStarting) {
		m.stopLocked(ctx, ms)
	}
	ms.mu.Unlock()

	m.mu.Lock()
	delete(m.servers, name)
	m.mu.Unlock()

	if err := m.store.Delete(name); err != nil {
		return err
	}
	slog.Info("server unregistered", "server", name)
	return nil
}

// Start brings a stopped server to running: construct the client, connect
// under the startup timeout, and launch the health monitor. A fresh start
// resets the restart counter.
func (m *ServerManager) Start(ctx context.Context, name string) error {
	ms, err := m.lookup(name)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.info.RestartCount = 0
	return m.startLocked(ctx, name, ms)
}

// startLocked performs the starting transition with ms.mu held. On failure
// the partially constructed client is fully released and the server lands
// in status error with the failure recorded.
func (m *ServerManager) startLocked(ctx context.Context, name string, ms *managedServer) error {
	switch ms.info.Status {
	case server.StatusRunning, server.StatusStarting:
		return fmt.Errorf("server %s is already %s", name, ms.info.Status)
	case server.StatusStopping:
		return fmt.Errorf("server %s is stopping", name)
	}

	m.transition(ctx, ms, server.StatusStarting, "")

	client, err := m.newClient(ms.info.Config)
	if err != nil {
		m.transition(ctx, ms, server.StatusError, err.Error())
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, ms.info.Config.StartupTimeout)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		// Connect releases its own partial state; nothing is retained here.
		m.transition(ctx, ms, server.StatusError, err.Error())
		return fmt.Errorf("start %s: %w", name, err)
	}

	now := time.Now()
	ms.client = client
	ms.retriever = NewErrorRetriever(client, m.bc)
	ms.info.PID = client.PID()
	ms.info.StartedAt = &now
	ms.info.LastError = ""
	m.transition(ctx, ms, server.StatusRunning, "")

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	ms.monitorCancel = monitorCancel
	ms.monitorDone = make(chan struct{})
	go m.monitor(monitorCtx, name, ms, ms.monitorDone)

	slog.Info("server started", "server", name, "pid", ms.info.PID)
	return nil
}

// Stop brings a running server to stopped through the shutdown handshake,
// escalating to forceful termination when the handshake exceeds the
// configured timeout.
func (m *ServerManager) Stop(ctx context.Context, name string) error {
	ms, err := m.lookup(name)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.info.Status != server.StatusRunning && ms.info.Status != server.StatusError {
		return fmt.Errorf("server %s is not running", name)
	}
	m.stopLocked(ctx, ms)
	slog.Info("server stopped", "server", name)
	return nil
}

// stopLocked performs the stopping transition with ms.mu held. The health
// monitor is cancelled first so a probe can never race the shutdown. Joining
// the monitor releases ms.mu: a probe that already woke is blocked acquiring
// it, and holding the lock across the join would deadlock both sides. The
// stopping status keeps other lifecycle calls out during the window.
func (m *ServerManager) stopLocked(ctx context.Context, ms *managedServer) {
	m.transition(ctx, ms, server.StatusStopping, "")
	ms.gen++

	if ms.monitorCancel != nil {
		cancel := ms.monitorCancel
		done := ms.monitorDone
		ms.monitorCancel = nil
		ms.monitorDone = nil
		cancel()
		ms.mu.Unlock()
		<-done
		ms.mu.Lock()
	}

	if ms.client != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, ms.info.Config.ShutdownTimeout)
		if err := ms.client.Disconnect(shutdownCtx); err != nil {
			slog.Warn("disconnect failed", "server", ms.info.Config.Name, "error", err)
		}
		cancel()
		ms.client = nil
		ms.retriever = nil
	}

	ms.info.PID = 0
	ms.info.StartedAt = nil
	m.transition(ctx, ms, server.StatusStopped, "")
}

// Restart stops then starts the server, incrementing the restart counter.
// Used both for explicit caller requests and health-driven recovery.
func (m *ServerManager) Restart(ctx context.Context, name string) error {
	ms, err := m.lookup(name)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	m.metrics.ServerRestarts.Add(ctx, 1)
	ms.info.RestartCount++

	if ms.info.Status == server.StatusRunning || ms.info.Status == server.StatusError {
		m.stopLocked(ctx, ms)
	}
	slog.Info("restarting server", "server", name, "attempt", ms.info.RestartCount)
	return m.startLocked(ctx, name, ms)
}

// healthRestart recovers a server whose health probe failed at generation
// gen. Any stop bumps the generation, so a caller's Stop or Unregister that
// lands between the probe and this call wins and the server stays down.
func (m *ServerManager) healthRestart(name string, ms *managedServer, gen uint64) {
	ctx := context.Background()

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.gen != gen {
		return
	}

	m.metrics.ServerRestarts.Add(ctx, 1)
	ms.info.RestartCount++

	if ms.info.Status == server.StatusRunning || ms.info.Status == server.StatusError {
		m.stopLocked(ctx, ms)
	}
	slog.Info("restarting server", "server", name, "attempt", ms.info.RestartCount)
	if err := m.startLocked(ctx, name, ms); err != nil {
		slog.Error("health-driven restart failed", "server", name, "error", err)
	}
}

// monitor is the per-server health loop. It exits as soon as the status
// leaves running for any reason, so there is never more than one live
// monitor per server.
func (m *ServerManager) monitor(ctx context.Context, name string, ms *managedServer, done chan struct{}) {
	defer close(done)

	interval := ms.info.Config.HealthCheckInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		ms.mu.Lock()
		running := ms.info.Status == server.StatusRunning
		client := ms.client
		cfg := ms.info.Config
		restarts := ms.info.RestartCount
		gen := ms.gen
		ms.mu.Unlock()

		if !running {
			return
		}
		if client != nil && client.Alive() {
			continue
		}

		slog.Warn("health check failed", "server", name, "restarts", restarts)

		if cfg.AutoRestart && restarts < cfg.MaxRestartAttempts {
			// The restart joins this monitor during its stop phase, so it
			// runs from a fresh goroutine and this loop instance exits; the
			// new start launches its own monitor.
			go m.healthRestart(name, ms, gen)
			return
		}

		ms.mu.Lock()
		m.transition(ctx, ms, server.StatusError, "health check failed, restart attempts exhausted")
		ms.mu.Unlock()
		return
	}
}

// Info returns a copy of the server's current state.
func (m *ServerManager) Info(name string) (server.Info, error) {
	ms, err := m.lookup(name)
	if err != nil {
		return server.Info{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.info, nil
}

// List returns all servers' state, sorted by name.
func (m *ServerManager) List() []server.Info {
	m.mu.RLock()
	infos := make([]server.Info, 0, len(m.servers))
	for _, ms := range m.servers {
		ms.mu.Lock()
		infos = append(infos, ms.info)
		ms.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Config.Name < infos[j].Config.Name })
	return infos
}

// Retriever returns the error retriever for a running server.
func (m *ServerManager) Retriever(name string) (*ErrorRetriever, error) {
	ms, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.retriever == nil {
		return nil, fmt.Errorf("server %s: %w", name, domain.ErrNotConnected)
	}
	return ms.retriever, nil
}

// StartAutoStart starts every registered server flagged auto_start, bounded
// by the configured concurrency.
func (m *ServerManager) StartAutoStart(ctx context.Context) {
	m.mu.RLock()
	var names []string
	for name, ms := range m.servers {
		if ms.info.Config.AutoStart {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	sem := semaphore.NewWeighted(m.manCfg.MaxConcurrentStarts)
	var wg sync.WaitGroup
	for _, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := m.Start(ctx, name); err != nil {
				slog.Warn("auto-start failed", "server", name, "error", err)
			}
		}(name)
	}
	wg.Wait()
}

// StopAll stops every running server, used at shutdown.
func (m *ServerManager) StopAll(ctx context.Context) {
	for _, info := range m.List() {
		if info.Status != server.StatusRunning && info.Status != server.StatusError {
			continue
		}
		if err := m.Stop(ctx, info.Config.Name); err != nil {
			slog.Warn("stop failed", "server", info.Config.Name, "error", err)
		}
	}
}

// lookup finds the managed record for a name.
func (m *ServerManager) lookup(name string) (*managedServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", name, domain.ErrNotFound)
	}
	return ms, nil
}

// transition records a status change and its message, and broadcasts it.
// Called with ms.mu held.
func (m *ServerManager) transition(ctx context.Context, ms *managedServer, status server.Status, errMsg string) {
	ms.info.Status = status
	if errMsg != "" {
		ms.info.LastError = errMsg
	}
	if m.bc != nil {
		m.bc.BroadcastEvent(ctx, broadcast.EventServerStatus, broadcast.ServerStatusEvent{
			Name:   ms.info.Config.Name,
			Status: string(status),
			Error:  errMsg,
		})
	}
}
