// Package configstore persists server configurations as YAML, one file per
// server name under a configuration directory.
package configstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/server"
)

// Store reads and writes server config records in a directory.
type Store struct {
	dir string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the configuration directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Save writes one record, replacing any existing record for the name.
func (s *Store) Save(cfg server.Config) error {
	if cfg.Name == "" {
		return errors.New("cannot persist config without a name")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config %s: %w", cfg.Name, err)
	}
	if err := os.WriteFile(s.path(cfg.Name), data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", cfg.Name, err)
	}
	return nil
}

// Load reads the record for the given name.
func (s *Store) Load(name string) (server.Config, error) {
	var cfg server.Config
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config %s: %w", name, domain.ErrNotFound)
		}
		return cfg, fmt.Errorf("read config %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", name, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Delete removes the record for the given name. Removing a missing record
// is not an error.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete config %s: %w", name, err)
	}
	return nil
}

// LoadAll reads every record in the directory. Unparseable records are
// logged and skipped so one bad file cannot prevent manager startup.
func (s *Store) LoadAll() ([]server.Config, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", s.dir, err)
	}

	var configs []server.Config
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".yaml")
		cfg, err := s.Load(name)
		if err != nil {
			slog.Warn("skipping unreadable server config", "file", e.Name(), "error", err)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
