package configstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/server"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "servers.d"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	cfg := server.Config{
		Name:             "pylsp",
		Command:          []string{"pylsp", "--verbose"},
		WorkingDirectory: "/work",
		Environment:      map[string]string{"PYTHONPATH": "/work/src"},
		ConnectionType:   lsp.ConnStdio,
		AutoStart:        true,
		AutoRestart:      true,
	}
	if err := s.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("pylsp")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "pylsp" || len(got.Command) != 2 || got.Command[1] != "--verbose" {
		t.Fatalf("loaded config %+v", got)
	}
	if got.Environment["PYTHONPATH"] != "/work/src" {
		t.Fatalf("environment lost: %+v", got.Environment)
	}
	// Defaults are filled in on load.
	if got.MaxRestartAttempts != 3 || got.StartupTimeout != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	s := newStore(t)

	cfg := server.Config{Name: "gopls", Command: []string{"gopls"}, ConnectionType: lsp.ConnStdio}
	if err := s.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.Command = []string{"gopls", "-rpc.trace"}
	if err := s.Save(cfg); err != nil {
		t.Fatalf("Save replace: %v", err)
	}

	got, err := s.Load("gopls")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Command) != 2 {
		t.Fatalf("expected replaced command, got %v", got.Command)
	}
}

func TestSaveRequiresName(t *testing.T) {
	s := newStore(t)
	if err := s.Save(server.Config{}); err == nil {
		t.Fatal("expected error for unnamed config")
	}
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Load("absent")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := newStore(t)
	if err := s.Delete("absent"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := newStore(t)
	if err := s.Save(server.Config{Name: "pylsp", Command: []string{"pylsp"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("pylsp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("pylsp"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLoadAllSkipsBrokenFiles(t *testing.T) {
	s := newStore(t)

	for _, name := range []string{"a", "b"} {
		if err := s.Save(server.Config{Name: name, Command: []string{name}}); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.yaml"), []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "ignored.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	configs, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("LoadAll returned %d configs, want 2", len(configs))
	}
}
