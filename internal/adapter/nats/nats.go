// Package nats implements the broadcast port over NATS JetStream, so
// dashboards and workflow glue can observe server lifecycle and
// diagnostics events without polling.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/resilience"
)

const streamName = "GSLSP"

// Broadcaster publishes subsystem events to JetStream subjects under lsp.>.
// A breaker suppresses publishes while the broker is unreachable.
type Broadcaster struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	breaker *resilience.Breaker
}

// Connect establishes a connection to NATS and ensures the event stream
// exists.
func Connect(ctx context.Context, url string) (*Broadcaster, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"lsp.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Broadcaster{
		nc:      nc,
		js:      js,
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}, nil
}

// BroadcastEvent publishes the payload as JSON on the event-type subject.
// Failures are logged, never surfaced: event delivery must not affect the
// subsystem's own operation.
func (b *Broadcaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("broadcast marshal failed", "event", eventType, "error", err)
		return
	}
	err = b.breaker.Execute(func() error {
		_, perr := b.js.Publish(ctx, eventType, data)
		return perr
	})
	if err != nil {
		slog.Warn("broadcast publish failed", "event", eventType, "error", err)
	}
}

// Close shuts down the NATS connection.
func (b *Broadcaster) Close() error {
	b.nc.Close()
	return nil
}
