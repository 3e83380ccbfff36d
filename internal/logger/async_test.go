package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recState is the shared sink behind every derived recordingHandler.
type recState struct {
	mu      sync.Mutex
	records []slog.Record
}

// recordingHandler collects slog.Records for test assertions.
type recordingHandler struct {
	state *recState
	attrs []slog.Attr
	delay time.Duration // optional per-record processing delay
}

func newRecordingHandler(delay time.Duration) *recordingHandler {
	return &recordingHandler{state: &recState{}, delay: delay}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	rec.AddAttrs(h.attrs...)
	h.state.mu.Lock()
	h.state.records = append(h.state.records, rec)
	h.state.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{state: h.state, attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...), delay: h.delay}
}
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) count() int {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return len(h.state.records)
}

func TestAsyncHandlerBasicWrite(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 100, 1)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	if err := ah.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
}

func TestAsyncHandlerConcurrentWrites(t *testing.T) {
	const goroutines = 100
	const perGoroutine = 100
	total := goroutines * perGoroutine

	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10000, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				rec := slog.NewRecord(time.Now(), slog.LevelInfo, "concurrent", 0)
				_ = ah.Handle(context.Background(), rec)
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records, got %d", total, got)
	}
}

func TestAsyncHandlerChannelFullDrops(t *testing.T) {
	// Use a slow inner handler with a tiny channel to force drops.
	inner := newRecordingHandler(10 * time.Millisecond)
	ah := NewAsyncHandler(inner, 1, 1)

	// Rapidly enqueue more records than the channel can hold.
	for range 50 {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "flood", 0)
		_ = ah.Handle(context.Background(), rec)
	}

	ah.Close()

	dropped := ah.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected some records to be dropped, got 0")
	}
	t.Logf("dropped %d out of 50 records", dropped)
}

func TestAsyncHandlerCloseFlushesRemaining(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 1000, 2)

	const total = 200
	for range total {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "flush-test", 0)
		_ = ah.Handle(context.Background(), rec)
	}

	// Close should block until all enqueued records are drained.
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records after close, got %d", total, got)
	}
}

func TestAsyncHandlerWithAttrsPreserved(t *testing.T) {
	inner := newRecordingHandler(0)
	ah := NewAsyncHandler(inner, 10, 1)

	logger := slog.New(ah).With("service", "gslsp")
	logger.Info("tagged")
	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	inner.state.mu.Lock()
	rec := inner.state.records[0]
	inner.state.mu.Unlock()

	found := false
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "service" && a.Value.String() == "gslsp" {
			found = true
			return false
		}
		return true
	})
	if !found {
		t.Fatal("service attribute lost in async path")
	}
}
