package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

func writeBinary(t *testing.T, dir, name string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDiscoverFindsKnownExecutables(t *testing.T) {
	m, _ := newManager(t, &clientFactory{alive: true})

	dir := t.TempDir()
	writeBinary(t, dir, "pylsp", 0o755)
	writeBinary(t, dir, "gopls", 0o755)
	writeBinary(t, dir, "random-tool", 0o755)

	found := m.Discover([]string{dir})
	if len(found) != 2 {
		t.Fatalf("found %d candidates, want 2: %+v", len(found), found)
	}

	byName := make(map[string]bool)
	for _, cfg := range found {
		byName[cfg.Name] = true
		if cfg.ConnectionType != lsp.ConnStdio {
			t.Fatalf("%s connection type = %s", cfg.Name, cfg.ConnectionType)
		}
		if !filepath.IsAbs(cfg.Command[0]) {
			t.Fatalf("%s command must be absolute, got %q", cfg.Name, cfg.Command[0])
		}
		// Normalize ran: timing defaults are in place.
		if cfg.MaxRestartAttempts == 0 || cfg.HealthCheckInterval == 0 {
			t.Fatalf("%s candidate not normalized: %+v", cfg.Name, cfg)
		}
	}
	if !byName["pylsp"] || !byName["gopls"] {
		t.Fatalf("candidates = %v", byName)
	}
}

func TestDiscoverSkipsNonExecutableFiles(t *testing.T) {
	m, _ := newManager(t, &clientFactory{alive: true})

	dir := t.TempDir()
	writeBinary(t, dir, "pylsp", 0o644)

	if found := m.Discover([]string{dir}); len(found) != 0 {
		t.Fatalf("non-executable file discovered: %+v", found)
	}
}

func TestDiscoverDeduplicatesAcrossPaths(t *testing.T) {
	m, _ := newManager(t, &clientFactory{alive: true})

	dirA := t.TempDir()
	dirB := t.TempDir()
	writeBinary(t, dirA, "gopls", 0o755)
	writeBinary(t, dirB, "gopls", 0o755)

	found := m.Discover([]string{dirA, dirB})
	if len(found) != 1 {
		t.Fatalf("found %d candidates, want 1", len(found))
	}
	// First path wins.
	if found[0].Command[0] != filepath.Join(dirA, "gopls") {
		t.Fatalf("command = %q", found[0].Command[0])
	}
}

func TestDiscoverIgnoresMissingDirs(t *testing.T) {
	m, _ := newManager(t, &clientFactory{alive: true})
	if found := m.Discover([]string{"/definitely/not/a/dir"}); len(found) != 0 {
		t.Fatalf("found %+v", found)
	}
}

func TestDiscoverNeverRegisters(t *testing.T) {
	m, _ := newManager(t, &clientFactory{alive: true})

	dir := t.TempDir()
	writeBinary(t, dir, "pylsp", 0o755)

	_ = m.Discover([]string{dir})
	if infos := m.List(); len(infos) != 0 {
		t.Fatalf("discovery must not register servers, registry has %+v", infos)
	}
}
