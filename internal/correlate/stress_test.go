package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/internal/store"
)

// newFileRig backs the engine with a file-based database, the configuration
// the server runs with. Contention behavior differs from :memory: because
// every goroutine's writes compete for the same file lock.
func newFileRig(t *testing.T) *testRig {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m := diag.New()
	return &testRig{
		engine:  New(s, m, slog.Default(), 5*time.Minute),
		store:   s,
		metrics: m,
	}
}

// Concurrent ingestion must not surface SQLITE_BUSY: writes are funneled
// through the store's single write connection, so contending writers queue
// instead of failing.
func TestApply_ConcurrentIngestion(t *testing.T) {
	t.Parallel()
	rig := newFileRig(t)
	ctx := context.Background()

	const goroutines = 64
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			spanID := fmt.Sprintf("span-%d", gid)
			ev := event("llm.call.start", "trace-stress", spanID)
			if _, err := rig.engine.Apply(ctx, ev, t0.Add(time.Duration(gid)*time.Millisecond)); err != nil {
				errs <- fmt.Errorf("apply %s: %w", spanID, err)
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	for g := 0; g < goroutines; g++ {
		spanID := fmt.Sprintf("span-%d", g)
		sp, err := rig.store.Span(ctx, spanID)
		if err != nil {
			t.Fatalf("read span %s: %v", spanID, err)
		}
		if sp == nil {
			t.Errorf("span %s missing after concurrent ingestion", spanID)
		}
	}
}

// Concurrent start/finish pairs on the same spans exercise the stripe locks
// and the write path together: every span must come out closed and paired.
func TestApply_ConcurrentStartFinishPairs(t *testing.T) {
	t.Parallel()
	rig := newFileRig(t)
	ctx := context.Background()

	const spans = 16
	var wg sync.WaitGroup
	errs := make(chan error, spans*2)

	for g := 0; g < spans; g++ {
		wg.Add(2)
		spanID := fmt.Sprintf("pair-%d", g)
		go func(id string, ts time.Time) {
			defer wg.Done()
			if _, err := rig.engine.Apply(ctx, event("tool.exec.start", "trace-pairs", id), ts); err != nil {
				errs <- fmt.Errorf("start %s: %w", id, err)
			}
		}(spanID, t0)
		go func(id string, ts time.Time) {
			defer wg.Done()
			if _, err := rig.engine.Apply(ctx, event("tool.exec.finish", "trace-pairs", id), ts); err != nil {
				errs <- fmt.Errorf("finish %s: %w", id, err)
			}
		}(spanID, t0.Add(2*time.Second))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	for g := 0; g < spans; g++ {
		spanID := fmt.Sprintf("pair-%d", g)
		sp, err := rig.store.Span(ctx, spanID)
		if err != nil {
			t.Fatalf("read span %s: %v", spanID, err)
		}
		if sp == nil {
			t.Fatalf("span %s missing", spanID)
		}
		if sp.State != model.SpanClosed {
			t.Errorf("span %s state = %q, want closed", spanID, sp.State)
		}
		if sp.StartTime == nil || sp.EndTime == nil || !sp.StartTime.Before(*sp.EndTime) {
			t.Errorf("span %s times = %v..%v", spanID, sp.StartTime, sp.EndTime)
		}
	}
}
