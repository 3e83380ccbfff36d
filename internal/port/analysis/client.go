// Package analysis defines the port through which services talk to an
// analysis-server client, keeping the retriever and manager testable
// without a live transport.
package analysis

import (
	"context"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

// Client is the operation surface of one connected analysis server.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ready() bool
	Alive() bool
	PID() int

	GetComprehensiveErrors(ctx context.Context, params lsp.ComprehensiveErrorsParams) (*lsp.AnalysisResult, error)
	GetFileErrors(ctx context.Context, uri string) (*lsp.AnalysisResult, error)
	AnalyzeCodebase(ctx context.Context, root string, include, exclude []string) (*lsp.AnalysisResult, error)
	AnalyzeFile(ctx context.Context, uri string) (*lsp.AnalysisResult, error)
	RefreshAnalysis(ctx context.Context) (*lsp.AnalysisResult, error)

	SetDiagnosticCallback(fn func(params lsp.PublishDiagnosticsParams))
}
