// Package service contains the subsystem's orchestration layer: the error
// retriever that normalizes and caches diagnostics, and the server manager
// that drives client lifecycles.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/analysis"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
	analysisport "github.com/Zeeeepa/graph-sitter-lsp/internal/port/analysis"
	"github.com/Zeeeepa/graph-sitter-lsp/internal/port/broadcast"
)

// ErrorListener observes every successful retrieval or push-driven update.
// Listeners cannot distinguish a pulled result from a pushed one.
type ErrorListener func(list *analysis.ComprehensiveErrorList)

// ErrorRetriever turns raw diagnostics into normalized CodeError values,
// maintains the per-file cache, and fans updates out to listeners. Cache
// entries are always replaced whole, never partially merged.
type ErrorRetriever struct {
	client analysisport.Client
	bc     broadcast.Broadcaster // optional

	mu            sync.RWMutex
	cache         map[string][]analysis.CodeError
	lastRetrieval time.Time

	listenerMu sync.Mutex
	listeners  map[uuid.UUID]ErrorListener
}

// NewErrorRetriever creates a retriever bound to the given client and hooks
// the client's diagnostics push into the cache-update path.
func NewErrorRetriever(client analysisport.Client, bc broadcast.Broadcaster) *ErrorRetriever {
	r := &ErrorRetriever{
		client:    client,
		bc:        bc,
		cache:     make(map[string][]analysis.CodeError),
		listeners: make(map[uuid.UUID]ErrorListener),
	}
	client.SetDiagnosticCallback(r.handlePush)
	return r
}

// AddListener registers an error listener and returns a removal handle.
func (r *ErrorRetriever) AddListener(fn ErrorListener) uuid.UUID {
	id := uuid.New()
	r.listenerMu.Lock()
	r.listeners[id] = fn
	r.listenerMu.Unlock()
	return id
}

// RemoveListener removes a previously registered listener.
func (r *ErrorRetriever) RemoveListener(id uuid.UUID) {
	r.listenerMu.Lock()
	delete(r.listeners, id)
	r.listenerMu.Unlock()
}

// GetComprehensiveErrors issues the whole-workspace query, normalizes and
// caches the result, and notifies listeners. A failed server call degrades
// to an empty-but-valid list with the duration recorded, so batch callers
// stay resilient.
func (r *ErrorRetriever) GetComprehensiveErrors(ctx context.Context, params lsp.ComprehensiveErrorsParams) *analysis.ComprehensiveErrorList {
	start := time.Now()
	result, err := r.client.GetComprehensiveErrors(ctx, params)
	if err != nil {
		slog.Warn("comprehensive error query failed", "error", err)
		list := analysis.NewErrorList(nil)
		list.Duration = time.Since(start)
		return list
	}
	return r.ingest(ctx, result, start)
}

// GetFileErrors queries errors for one file and replaces exactly that
// file's cache entry. Unlike the batch queries, failures surface to the
// caller.
func (r *ErrorRetriever) GetFileErrors(ctx context.Context, uri string) ([]analysis.CodeError, error) {
	start := time.Now()
	result, err := r.client.GetFileErrors(ctx, uri)
	if err != nil {
		return nil, err
	}

	path := uriToPath(uri)
	diags := result.Files[uri]
	if diags == nil {
		// Some servers key the reply by path rather than URI.
		diags = result.Files[path]
	}

	errs := normalizeFile(path, diags)
	list := r.replaceFile(path, errs)
	list.Duration = time.Since(start)
	r.notify(ctx, list, path, len(errs))
	return errs, nil
}

// AnalyzeCodebase runs the bulk analysis pass through the same
// normalization and cache-merge path as the comprehensive query.
func (r *ErrorRetriever) AnalyzeCodebase(ctx context.Context, root string, include, exclude []string) *analysis.ComprehensiveErrorList {
	start := time.Now()
	result, err := r.client.AnalyzeCodebase(ctx, root, include, exclude)
	if err != nil {
		slog.Warn("codebase analysis failed", "root", root, "error", err)
		list := analysis.NewErrorList(nil)
		list.Duration = time.Since(start)
		return list
	}
	return r.ingest(ctx, result, start)
}

// AnalyzeFile analyzes a single file and replaces its cache entry.
func (r *ErrorRetriever) AnalyzeFile(ctx context.Context, uri string) ([]analysis.CodeError, error) {
	start := time.Now()
	result, err := r.client.AnalyzeFile(ctx, uri)
	if err != nil {
		return nil, err
	}

	path := uriToPath(uri)
	diags := result.Files[uri]
	if diags == nil {
		diags = result.Files[path]
	}

	errs := normalizeFile(path, diags)
	list := r.replaceFile(path, errs)
	list.Duration = time.Since(start)
	r.notify(ctx, list, path, len(errs))
	return errs, nil
}

// RefreshAnalysis asks the server to re-analyze and ingests the result.
func (r *ErrorRetriever) RefreshAnalysis(ctx context.Context) *analysis.ComprehensiveErrorList {
	start := time.Now()
	result, err := r.client.RefreshAnalysis(ctx)
	if err != nil {
		slog.Warn("refresh analysis failed", "error", err)
		list := analysis.NewErrorList(nil)
		list.Duration = time.Since(start)
		return list
	}
	return r.ingest(ctx, result, start)
}

// CachedErrors returns the current cache entry for a file path.
func (r *ErrorRetriever) CachedErrors(path string) []analysis.CodeError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry := r.cache[path]
	out := make([]analysis.CodeError, len(entry))
	copy(out, entry)
	return out
}

// CachedFiles returns the sorted set of files with cached entries.
func (r *ErrorRetriever) CachedFiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	files := make([]string, 0, len(r.cache))
	for f := range r.cache {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Summary aggregates the whole cache into one list with derived counts.
func (r *ErrorRetriever) Summary() *analysis.ComprehensiveErrorList {
	r.mu.RLock()
	var all []analysis.CodeError
	for _, entry := range r.cache {
		all = append(all, entry...)
	}
	r.mu.RUnlock()
	return analysis.NewErrorList(all)
}

// LastRetrieval returns the time of the most recent successful retrieval.
func (r *ErrorRetriever) LastRetrieval() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRetrieval
}

// ingest normalizes a multi-file result, replaces every touched file's
// cache entry, and notifies listeners.
func (r *ErrorRetriever) ingest(ctx context.Context, result *lsp.AnalysisResult, start time.Time) *analysis.ComprehensiveErrorList {
	var all []analysis.CodeError

	r.mu.Lock()
	for uri, diags := range result.Files {
		path := uriToPath(uri)
		errs := normalizeFile(path, diags)
		if len(errs) == 0 {
			delete(r.cache, path)
			continue
		}
		r.cache[path] = errs
		all = append(all, errs...)
	}
	r.lastRetrieval = time.Now()
	r.mu.Unlock()

	list := analysis.NewErrorList(all)
	list.Duration = time.Since(start)
	r.notify(ctx, list, "", len(all))
	return list
}

// handlePush routes a server diagnostics push through the identical
// normalize, cache-replace, notify path as a synchronous retrieval.
func (r *ErrorRetriever) handlePush(params lsp.PublishDiagnosticsParams) {
	path := uriToPath(params.URI)
	errs := normalizeFile(path, params.Diagnostics)
	list := r.replaceFile(path, errs)
	r.notify(context.Background(), list, path, len(errs))
}

// replaceFile swaps one file's cache entry (removing it when empty) and
// returns a list describing that file's current errors.
func (r *ErrorRetriever) replaceFile(path string, errs []analysis.CodeError) *analysis.ComprehensiveErrorList {
	r.mu.Lock()
	if len(errs) == 0 {
		delete(r.cache, path)
	} else {
		r.cache[path] = errs
	}
	r.lastRetrieval = time.Now()
	r.mu.Unlock()

	return analysis.NewErrorList(errs)
}

// notify fans the list out to listeners, containing per-listener panics so
// one bad callback never interrupts delivery to the rest, then broadcasts
// the update.
func (r *ErrorRetriever) notify(ctx context.Context, list *analysis.ComprehensiveErrorList, path string, count int) {
	r.listenerMu.Lock()
	listeners := make([]ErrorListener, 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.listenerMu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("error listener panicked", "panic", rec)
				}
			}()
			fn(list)
		}()
	}

	if r.bc != nil {
		r.bc.BroadcastEvent(ctx, broadcast.EventDiagnosticsUpdated, broadcast.DiagnosticsEvent{
			URI:   path,
			Count: count,
		})
	}
}

// normalizeFile converts one file's raw diagnostics into CodeError values.
func normalizeFile(path string, diags []lsp.Diagnostic) []analysis.CodeError {
	if len(diags) == 0 {
		return nil
	}
	errs := make([]analysis.CodeError, 0, len(diags))
	for i, d := range diags {
		errs = append(errs, analysis.FromDiagnostic(path, i, d))
	}
	return errs
}

// uriToPath strips the file scheme from a document URI.
func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
