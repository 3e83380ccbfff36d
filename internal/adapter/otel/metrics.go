// Package otel provides the OpenTelemetry metric instruments for the
// analysis-client subsystem. Instruments come from the global meter, so
// they are no-ops until a host application installs an SDK meter provider.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "graph-sitter-lsp"

// Metrics holds all metric instruments.
type Metrics struct {
	RequestsSent        metric.Int64Counter
	RequestTimeouts     metric.Int64Counter
	Reconnects          metric.Int64Counter
	DiagnosticsReceived metric.Int64Counter
	ServerRestarts      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RequestsSent, err = meter.Int64Counter("gslsp.requests.sent",
		metric.WithDescription("Number of protocol requests sent"))
	if err != nil {
		return nil, err
	}

	m.RequestTimeouts, err = meter.Int64Counter("gslsp.requests.timeouts",
		metric.WithDescription("Number of requests that exceeded their timeout"))
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter("gslsp.client.reconnects",
		metric.WithDescription("Number of reconnect attempts after transport loss"))
	if err != nil {
		return nil, err
	}

	m.DiagnosticsReceived, err = meter.Int64Counter("gslsp.diagnostics.received",
		metric.WithDescription("Number of diagnostics ingested from the server"))
	if err != nil {
		return nil, err
	}

	m.ServerRestarts, err = meter.Int64Counter("gslsp.servers.restarts",
		metric.WithDescription("Number of health-driven or requested server restarts"))
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("gslsp.request.duration_seconds",
		metric.WithDescription("Protocol request round-trip duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
