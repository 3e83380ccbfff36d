package lsp

// Core protocol methods.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"
	MethodPing        = "$/ping"
)

// Extension methods for the analysis server.
const (
	MethodComprehensiveErrors = "analysis/comprehensiveErrors"
	MethodFileErrors          = "analysis/fileErrors"
	MethodAnalyzeCodebase     = "analysis/analyzeCodebase"
	MethodAnalyzeFile         = "analysis/analyzeFile"
	MethodRefreshAnalysis     = "analysis/refresh"

	// MethodDiagnosticsUpdated is the server -> client diagnostics push.
	MethodDiagnosticsUpdated = "analysis/diagnosticsUpdated"
)

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProcessID    int            `json:"processId,omitempty"`
	ClientInfo   ClientInfo     `json:"clientInfo"`
	RootURI      string         `json:"rootUri,omitempty"`
	Capabilities map[string]any `json:"capabilities"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	Capabilities map[string]any `json:"capabilities"`
	ServerInfo   *ClientInfo    `json:"serverInfo,omitempty"`
}

// ComprehensiveErrorsParams filters the whole-workspace error query.
type ComprehensiveErrorsParams struct {
	Severities []string `json:"severities,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Files      []string `json:"files,omitempty"`
}

// FileErrorsParams targets a single file.
type FileErrorsParams struct {
	URI string `json:"uri"`
}

// AnalyzeCodebaseParams drives a bulk analysis pass.
type AnalyzeCodebaseParams struct {
	RootPath string   `json:"rootPath"`
	Include  []string `json:"include,omitempty"`
	Exclude  []string `json:"exclude,omitempty"`
}

// AnalyzeFileParams drives a single-file analysis pass.
type AnalyzeFileParams struct {
	URI string `json:"uri"`
}

// AnalysisResult is the shared reply shape of the analysis extension
// requests: diagnostics grouped by file URI.
type AnalysisResult struct {
	Files map[string][]Diagnostic `json:"files"`
}
