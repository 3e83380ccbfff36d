package service

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/server"
)

// knownServers maps executable names found on disk to candidate configs.
// Discovery proposes these; registration stays an explicit caller action.
var knownServers = map[string]server.Config{
	"graph-sitter-server": {
		Command:        []string{"graph-sitter-server", "--stdio"},
		ConnectionType: lsp.ConnStdio,
	},
	"pylsp": {
		Command:        []string{"pylsp"},
		ConnectionType: lsp.ConnStdio,
	},
	"pyright-langserver": {
		Command:        []string{"pyright-langserver", "--stdio"},
		ConnectionType: lsp.ConnStdio,
	},
	"gopls": {
		Command:        []string{"gopls", "serve"},
		ConnectionType: lsp.ConnStdio,
	},
	"typescript-language-server": {
		Command:        []string{"typescript-language-server", "--stdio"},
		ConnectionType: lsp.ConnStdio,
	},
}

// Discover scans the given directories for known analysis-server
// executables and returns candidate configs. Nothing is registered.
func (m *ServerManager) Discover(searchPaths []string) []server.Config {
	var found []server.Config
	seen := make(map[string]struct{})

	paths := append([]string{}, searchPaths...)
	paths = append(paths, m.manCfg.DiscoverPaths...)

	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			slog.Debug("discovery skipping unreadable dir", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			tmpl, ok := knownServers[e.Name()]
			if !ok {
				continue
			}
			if _, dup := seen[e.Name()]; dup {
				continue
			}
			info, err := e.Info()
			if err != nil || info.Mode()&0o111 == 0 {
				continue
			}

			seen[e.Name()] = struct{}{}
			cfg := tmpl
			cfg.Name = e.Name()
			cfg.Command = append([]string{filepath.Join(dir, e.Name())}, tmpl.Command[1:]...)
			cfg.Normalize()
			found = append(found, cfg)
		}
	}

	slog.Info("discovery finished", "paths", len(paths), "found", len(found))
	return found
}
