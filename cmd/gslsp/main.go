// Command gslsp runs the analysis-server manager daemon: it loads the
// persisted server registry, auto-starts flagged servers, supervises them,
// and broadcasts lifecycle and diagnostics events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/configstore"
	gsnats "github.com/Zeeeepa/graph-sitter-lsp/internal/adapter/nats"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/config"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/logger"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/port/broadcast"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"config_dir", cfg.Manager.ConfigDir,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// Optional event broadcasting; the core runs fine without it.
	var bc broadcast.Broadcaster
	if cfg.NATS.URL != "" {
		queue, err := gsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		bc = queue
	}

	store, err := configstore.New(cfg.Manager.ConfigDir)
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}

	manager, err := service.NewServerManager(store, bc, cfg.Manager, cfg.Client)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	if err := manager.LoadPersisted(); err != nil {
		return fmt.Errorf("load servers: %w", err)
	}

	manager.StartAutoStart(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Manager.ShutdownGrace)
	defer cancel()
	manager.StopAll(shutdownCtx)

	return nil
}
