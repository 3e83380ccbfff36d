package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "gslsp.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Manager.ConfigDir, "GSLSP_CONFIG_DIR")
	setInt64(&cfg.Manager.MaxConcurrentStarts, "GSLSP_MAX_CONCURRENT_STARTS")
	setDuration(&cfg.Manager.ShutdownGrace, "GSLSP_SHUTDOWN_GRACE")
	setDuration(&cfg.Client.RequestTimeout, "GSLSP_REQUEST_TIMEOUT")
	setDuration(&cfg.Client.InitializeTimeout, "GSLSP_INITIALIZE_TIMEOUT")
	setDuration(&cfg.Client.HeartbeatInterval, "GSLSP_HEARTBEAT_INTERVAL")
	setBool(&cfg.Client.AutoReconnect, "GSLSP_AUTO_RECONNECT")
	setDuration(&cfg.Client.ReconnectBase, "GSLSP_RECONNECT_BASE")
	setDuration(&cfg.Client.ReconnectMax, "GSLSP_RECONNECT_MAX")
	setInt(&cfg.Client.MaxReconnectAttempts, "GSLSP_RECONNECT_MAX_ATTEMPTS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "GSLSP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "GSLSP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "GSLSP_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Manager.ConfigDir == "" {
		return errors.New("manager.config_dir is required")
	}
	if cfg.Manager.MaxConcurrentStarts < 1 {
		return errors.New("manager.max_concurrent_starts must be >= 1")
	}
	if cfg.Client.RequestTimeout <= 0 {
		return errors.New("client.request_timeout must be positive")
	}
	if cfg.Client.MaxReconnectAttempts < 1 {
		return errors.New("client.max_reconnect_attempts must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
