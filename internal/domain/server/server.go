// Package server defines the configuration and lifecycle state of managed
// analysis servers.
package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// Status is the lifecycle state of a managed server. Transitions happen
// only through manager operations.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Config describes one registered analysis server. Name is the unique key;
// one record per name is persisted under the configuration directory.
type Config struct {
	Name                string             `yaml:"name" json:"name"`
	Command             []string           `yaml:"command" json:"command"`
	WorkingDirectory    string             `yaml:"working_directory" json:"working_directory"`
	Environment         map[string]string  `yaml:"environment,omitempty" json:"environment,omitempty"`
	ConnectionType      lsp.ConnectionKind `yaml:"connection_type" json:"connection_type"`
	Host                string             `yaml:"host,omitempty" json:"host,omitempty"`
	Port                int                `yaml:"port,omitempty" json:"port,omitempty"`
	AutoStart           bool               `yaml:"auto_start" json:"auto_start"`
	AutoRestart         bool               `yaml:"auto_restart" json:"auto_restart"`
	MaxRestartAttempts  int                `yaml:"max_restart_attempts" json:"max_restart_attempts"`
	HealthCheckInterval time.Duration      `yaml:"health_check_interval" json:"health_check_interval"`
	StartupTimeout      time.Duration      `yaml:"startup_timeout" json:"startup_timeout"`
	ShutdownTimeout     time.Duration      `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Normalize fills zero-valued timing fields with sane defaults.
func (c *Config) Normalize() {
	if c.ConnectionType == "" {
		c.ConnectionType = lsp.ConnStdio
	}
	if c.MaxRestartAttempts == 0 {
		c.MaxRestartAttempts = 3
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate checks the config is usable for its connection kind.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("server name is required")
	}
	if !c.ConnectionType.Valid() {
		return fmt.Errorf("unknown connection type %q", c.ConnectionType)
	}
	if c.ConnectionType == lsp.ConnStdio && len(c.Command) == 0 {
		return fmt.Errorf("server %s: stdio connection requires a command", c.Name)
	}
	if c.ConnectionType != lsp.ConnStdio && c.Host == "" {
		return fmt.Errorf("server %s: %s connection requires a host", c.Name, c.ConnectionType)
	}
	return nil
}

// Info is the externally visible state of one managed server.
type Info struct {
	Config       Config     `json:"config"`
	Status       Status     `json:"status"`
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	RestartCount int        `json:"restart_count"`
	LastError    string     `json:"last_error,omitempty"`
}
