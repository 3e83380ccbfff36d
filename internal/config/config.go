// Package config provides hierarchical configuration loading for the
// analysis-client subsystem. Precedence: defaults < YAML file < environment
// variables.
package config

import "time"

// Config holds all runtime configuration.
type Config struct {
	Manager Manager `yaml:"manager"`
	Client  Client  `yaml:"client"`
	NATS    NATS    `yaml:"nats"`
	Logging Logging `yaml:"logging"`
}

// Manager holds server-manager configuration.
type Manager struct {
	ConfigDir           string        `yaml:"config_dir"`            // where server records are persisted
	MaxConcurrentStarts int64         `yaml:"max_concurrent_starts"` // bound on parallel auto-starts
	DiscoverPaths       []string      `yaml:"discover_paths"`        // extra directories scanned by discovery
	ShutdownGrace       time.Duration `yaml:"shutdown_grace"`        // bound on stopping all servers at exit
}

// Client holds per-client protocol defaults. Individual server records can
// not override these; they apply to every client the manager constructs.
type Client struct {
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	InitializeTimeout    time.Duration `yaml:"initialize_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// NATS holds the optional event-broadcast connection. Empty URL disables
// broadcasting.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured-logging configuration.
type Logging struct {
	Level   string `yaml:"level"`   // debug, info, warn, error
	Service string `yaml:"service"` // service attribute on every record
	Async   bool   `yaml:"async"`   // buffer records through a worker pool
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Manager: Manager{
			ConfigDir:           "servers.d",
			MaxConcurrentStarts: 4,
			ShutdownGrace:       15 * time.Second,
		},
		Client: Client{
			RequestTimeout:       30 * time.Second,
			InitializeTimeout:    15 * time.Second,
			HeartbeatInterval:    15 * time.Second,
			AutoReconnect:        true,
			ReconnectBase:        500 * time.Millisecond,
			ReconnectMax:         30 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Logging: Logging{
			Level:   "info",
			Service: "gslsp",
		},
	}
}
