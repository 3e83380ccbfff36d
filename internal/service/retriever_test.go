package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/analysis"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/port/broadcast"
)

// stubClient implements the analysis client port with scripted results.
type stubClient struct {
	mu      sync.Mutex
	result  *lsp.AnalysisResult
	err     error
	push    func(lsp.PublishDiagnosticsParams)
	started bool
}

func (s *stubClient) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return s.err
}

func (s *stubClient) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *stubClient) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *stubClient) Alive() bool { return s.Ready() }
func (s *stubClient) PID() int    { return 12345 }

func (s *stubClient) scripted() (*lsp.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	res := s.result
	if res == nil {
		res = &lsp.AnalysisResult{Files: map[string][]lsp.Diagnostic{}}
	}
	return res, nil
}

func (s *stubClient) GetComprehensiveErrors(context.Context, lsp.ComprehensiveErrorsParams) (*lsp.AnalysisResult, error) {
	return s.scripted()
}

func (s *stubClient) GetFileErrors(context.Context, string) (*lsp.AnalysisResult, error) {
	return s.scripted()
}

func (s *stubClient) AnalyzeCodebase(context.Context, string, []string, []string) (*lsp.AnalysisResult, error) {
	return s.scripted()
}

func (s *stubClient) AnalyzeFile(context.Context, string) (*lsp.AnalysisResult, error) {
	return s.scripted()
}

func (s *stubClient) RefreshAnalysis(context.Context) (*lsp.AnalysisResult, error) {
	return s.scripted()
}

func (s *stubClient) SetDiagnosticCallback(fn func(params lsp.PublishDiagnosticsParams)) {
	s.mu.Lock()
	s.push = fn
	s.mu.Unlock()
}

func (s *stubClient) pushDiagnostics(p lsp.PublishDiagnosticsParams) {
	s.mu.Lock()
	fn := s.push
	s.mu.Unlock()
	fn(p)
}

// recordingBroadcaster captures broadcast events.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	b.events = append(b.events, eventType)
	b.mu.Unlock()
}

func diag(line int, sev int, msg string) lsp.Diagnostic {
	return lsp.Diagnostic{
		Range:    lsp.Range{Start: lsp.Position{Line: line, Character: 0}},
		Severity: sev,
		Message:  msg,
	}
}

func TestGetComprehensiveErrorsCachesAndCounts(t *testing.T) {
	client := &stubClient{result: &lsp.AnalysisResult{Files: map[string][]lsp.Diagnostic{
		"file:///work/a.py": {
			diag(0, lsp.SeverityError, "undefined name"),
			diag(3, lsp.SeverityWarning, "unused import of module"),
		},
		"file:///work/b.py": {
			diag(1, lsp.SeverityInfo, "consider a docstring"),
		},
	}}}
	r := NewErrorRetriever(client, nil)

	list := r.GetComprehensiveErrors(context.Background(), lsp.ComprehensiveErrorsParams{})

	if list.TotalCount != 3 {
		t.Fatalf("TotalCount = %d, want 3", list.TotalCount)
	}
	if list.CriticalCount != 1 || list.WarningCount != 1 || list.InfoCount != 1 {
		t.Fatalf("counts = %d/%d/%d", list.CriticalCount, list.WarningCount, list.InfoCount)
	}
	if !reflect.DeepEqual(r.CachedFiles(), []string{"/work/a.py", "/work/b.py"}) {
		t.Fatalf("CachedFiles = %v", r.CachedFiles())
	}
	if len(r.CachedErrors("/work/a.py")) != 2 {
		t.Fatalf("cache for a.py = %v", r.CachedErrors("/work/a.py"))
	}
	if r.LastRetrieval().IsZero() {
		t.Fatal("LastRetrieval not set")
	}
}

func TestGetComprehensiveErrorsDegradesOnFailure(t *testing.T) {
	client := &stubClient{err: errors.New("transport gone")}
	r := NewErrorRetriever(client, nil)

	list := r.GetComprehensiveErrors(context.Background(), lsp.ComprehensiveErrorsParams{})
	if list == nil {
		t.Fatal("expected empty list, not nil")
	}
	if list.TotalCount != 0 {
		t.Fatalf("TotalCount = %d, want 0", list.TotalCount)
	}
	if list.Duration <= 0 {
		t.Fatal("Duration must be recorded on failure")
	}
}

func TestGetFileErrorsReplacesOnlyThatFile(t *testing.T) {
	client := &stubClient{result: &lsp.AnalysisResult{Files: map[string][]lsp.Diagnostic{
		"file:///work/a.py": {diag(0, lsp.SeverityError, "undefined name")},
		"file:///work/b.py": {diag(0, lsp.SeverityError, "undefined name")},
	}}}
	r := NewErrorRetriever(client, nil)
	r.GetComprehensiveErrors(context.Background(), lsp.ComprehensiveErrorsParams{})

	// New single-file result with two findings for a.py only.
	client.mu.Lock()
	client.result = &lsp.AnalysisResult{Files: map[string][]lsp.Diagnostic{
		"file:///work/a.py": {
			diag(0, lsp.SeverityError, "undefined name"),
			diag(2, lsp.SeverityWarning, "unused variable"),
		},
	}}
	client.mu.Unlock()

	errs, err := r.GetFileErrors(context.Background(), "file:///work/a.py")
	if err != nil {
		t.Fatalf("GetFileErrors: %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("returned %d errors, want 2", len(errs))
	}
	if len(r.CachedErrors("/work/a.py")) != 2 {
		t.Fatalf("a.py cache = %v", r.CachedErrors("/work/a.py"))
	}
	// b.py is untouched by a single-file replacement.
	if len(r.CachedErrors("/work/b.py")) != 1 {
		t.Fatalf("b.py cache = %v", r.CachedErrors("/work/b.py"))
	}
}

func TestGetFileErrorsSurfacesFailure(t *testing.T) {
	client := &stubClient{err: errors.New("not connected")}
	r := NewErrorRetriever(client, nil)

	if _, err := r.GetFileErrors(context.Background(), "file:///work/a.py"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPushAndPullShareTheCachePath(t *testing.T) {
	client := &stubClient{}
	r := NewErrorRetriever(client, nil)

	var notifiedMu sync.Mutex
	var notified []*analysis.ComprehensiveErrorList
	r.AddListener(func(list *analysis.ComprehensiveErrorList) {
		notifiedMu.Lock()
		notified = append(notified, list)
		notifiedMu.Unlock()
	})

	client.pushDiagnostics(lsp.PublishDiagnosticsParams{
		URI:         "file:///work/a.py",
		Diagnostics: []lsp.Diagnostic{diag(0, lsp.SeverityError, "undefined name")},
	})

	if len(r.CachedErrors("/work/a.py")) != 1 {
		t.Fatalf("push did not populate cache: %v", r.CachedErrors("/work/a.py"))
	}
	notifiedMu.Lock()
	n := len(notified)
	notifiedMu.Unlock()
	if n != 1 {
		t.Fatalf("listener invoked %d times, want 1", n)
	}

	// An empty push clears the file entry entirely.
	client.pushDiagnostics(lsp.PublishDiagnosticsParams{URI: "file:///work/a.py"})
	if files := r.CachedFiles(); len(files) != 0 {
		t.Fatalf("empty push must clear the entry, cache has %v", files)
	}
}

func TestListenerPanicIsContained(t *testing.T) {
	client := &stubClient{}
	r := NewErrorRetriever(client, nil)

	r.AddListener(func(*analysis.ComprehensiveErrorList) { panic("bad listener") })
	delivered := false
	r.AddListener(func(*analysis.ComprehensiveErrorList) { delivered = true })

	client.pushDiagnostics(lsp.PublishDiagnosticsParams{
		URI:         "file:///work/a.py",
		Diagnostics: []lsp.Diagnostic{diag(0, lsp.SeverityError, "boom")},
	})

	if !delivered {
		t.Fatal("panicking listener blocked delivery to the next one")
	}
}

func TestRemoveListener(t *testing.T) {
	client := &stubClient{}
	r := NewErrorRetriever(client, nil)

	calls := 0
	id := r.AddListener(func(*analysis.ComprehensiveErrorList) { calls++ })
	r.RemoveListener(id)

	client.pushDiagnostics(lsp.PublishDiagnosticsParams{
		URI:         "file:///work/a.py",
		Diagnostics: []lsp.Diagnostic{diag(0, lsp.SeverityError, "boom")},
	})

	if calls != 0 {
		t.Fatalf("removed listener invoked %d times", calls)
	}
}

func TestUpdatesAreBroadcast(t *testing.T) {
	client := &stubClient{}
	bc := &recordingBroadcaster{}
	NewErrorRetriever(client, bc)

	client.pushDiagnostics(lsp.PublishDiagnosticsParams{
		URI:         "file:///work/a.py",
		Diagnostics: []lsp.Diagnostic{diag(0, lsp.SeverityError, "boom")},
	})

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.events) != 1 || bc.events[0] != broadcast.EventDiagnosticsUpdated {
		t.Fatalf("events = %v", bc.events)
	}
}

func TestSummaryAggregatesCache(t *testing.T) {
	client := &stubClient{result: &lsp.AnalysisResult{Files: map[string][]lsp.Diagnostic{
		"file:///work/a.py": {diag(0, lsp.SeverityError, "one"), diag(1, lsp.SeverityWarning, "two")},
		"file:///work/b.py": {diag(0, lsp.SeverityError, "three")},
	}}}
	r := NewErrorRetriever(client, nil)
	r.GetComprehensiveErrors(context.Background(), lsp.ComprehensiveErrorsParams{})

	sum := r.Summary()
	if sum.TotalCount != 3 || sum.CriticalCount != 2 {
		t.Fatalf("summary = %d total, %d critical", sum.TotalCount, sum.CriticalCount)
	}
	if len(sum.Files) != 2 {
		t.Fatalf("summary files = %v", sum.Files)
	}
}
