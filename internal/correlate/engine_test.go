package correlate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/internal/store"
	"github.com/vigil-ai/vigil/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testRig struct {
	engine  *Engine
	store   *store.Store
	metrics *diag.Metrics
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	s, err := store.Open(":memory:")
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

func event(name, traceID, spanID string) *types.TelemetryEvent {
	return &types.TelemetryEvent{
		TraceID: traceID,
		Name:    name,
		Level:   types.LevelInfo,
		AgentID: "agent-1",
		SpanID:  spanID,
	}
}

func TestApply_StartFinishScenario(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	start := event("llm.call.start", "trace-1", "span-1")
	if _, err := rig.engine.Apply(ctx, start, t0); err != nil {
		t.Fatalf("apply start: %v", err)
	}
	finish := event("llm.call.finish", "trace-1", "span-1")
	finEv, err := rig.engine.Apply(ctx, finish, t0.Add(5*time.Second))
	if err != nil {
		t.Fatalf("apply finish: %v", err)
	}

	sp, err := rig.store.Span(ctx, "span-1")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.StartTime == nil || !sp.StartTime.Equal(t0) {
		t.Errorf("span start = %v, want %v", sp.StartTime, t0)
	}
	if sp.EndTime == nil || !sp.EndTime.Equal(t0.Add(5*time.Second)) {
		t.Errorf("span end = %v, want %v", sp.EndTime, t0.Add(5*time.Second))
	}
	if sp.State != model.SpanClosed {
		t.Errorf("span state = %q, want closed", sp.State)
	}
	if sp.Name != "llm_interaction" {
		t.Errorf("span name = %q, want llm_interaction", sp.Name)
	}

	got, err := rig.store.Event(ctx, finEv.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.CounterpartID == nil {
		t.Error("finish event not paired with its start")
	}
	if n := testutil.ToFloat64(rig.metrics.PairingsCompleted); n != 1 {
		t.Errorf("pairings counter = %v, want 1", n)
	}
}

func TestApply_OutOfOrderFinishFirst(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	finish := event("llm.call.finish", "trace-1", "span-1")
	if _, err := rig.engine.Apply(ctx, finish, t0.Add(5*time.Second)); err != nil {
		t.Fatalf("apply finish: %v", err)
	}

	sp, err := rig.store.Span(ctx, "span-1")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.State != model.SpanClosed {
		t.Errorf("span state = %q, want closed before the start arrives", sp.State)
	}
	if sp.StartTime != nil {
		t.Errorf("span start = %v, want unset pending backfill", sp.StartTime)
	}

	start := event("llm.call.start", "trace-1", "span-1")
	startEv, err := rig.engine.Apply(ctx, start, t0)
	if err != nil {
		t.Fatalf("apply start: %v", err)
	}

	sp, err = rig.store.Span(ctx, "span-1")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.StartTime == nil || sp.EndTime == nil || !sp.StartTime.Before(*sp.EndTime) {
		t.Errorf("span times = (%v, %v), want backfilled start before end", sp.StartTime, sp.EndTime)
	}
	if sp.State != model.SpanClosed {
		t.Errorf("span state = %q, want still closed after backfill", sp.State)
	}

	got, err := rig.store.Event(ctx, startEv.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.CounterpartID == nil {
		t.Error("pairing not completed retroactively")
	}
}

func TestApply_Idempotent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := event("llm.call.start", "trace-1", "span-1")
	for i := 0; i < 2; i++ {
		if _, err := rig.engine.Apply(ctx, ev, t0); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	sp, err := rig.store.Span(ctx, "span-1")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.StartTime == nil || !sp.StartTime.Equal(t0) {
		t.Errorf("span start moved: %v", sp.StartTime)
	}
	agent, err := rig.store.Agent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if !agent.FirstSeen.Equal(t0) || !agent.LastSeen.Equal(t0) {
		t.Errorf("agent seen window = (%v, %v), want (%v, %v)", agent.FirstSeen, agent.LastSeen, t0, t0)
	}
}

func TestApply_ParentChainRootResolution(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// Root span, then a child, then a grandchild declaring the child.
	if _, err := rig.engine.Apply(ctx, event("framework.run.start", "trace-1", "span-root"), t0); err != nil {
		t.Fatalf("apply root: %v", err)
	}

	child := event("llm.call.start", "trace-1", "span-child")
	child.ParentSpanID = "span-root"
	if _, err := rig.engine.Apply(ctx, child, t0.Add(time.Second)); err != nil {
		t.Fatalf("apply child: %v", err)
	}

	grand := event("tool.execution.start", "trace-1", "span-grand")
	grand.ParentSpanID = "span-child"
	if _, err := rig.engine.Apply(ctx, grand, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("apply grandchild: %v", err)
	}

	for _, tt := range []struct{ spanID, wantRoot string }{
		{"span-root", "span-root"},
		{"span-child", "span-root"},
		{"span-grand", "span-root"},
	} {
		sp, err := rig.store.Span(ctx, tt.spanID)
		if err != nil {
			t.Fatalf("get %s: %v", tt.spanID, err)
		}
		if sp.RootSpanID != tt.wantRoot {
			t.Errorf("%s root = %q, want %q", tt.spanID, sp.RootSpanID, tt.wantRoot)
		}
	}
}

func TestApply_ParentBeforeItsOwnEvents(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// Child arrives first: the unknown parent becomes a minimal placeholder.
	child := event("llm.call.start", "trace-1", "span-child")
	child.ParentSpanID = "span-parent"
	if _, err := rig.engine.Apply(ctx, child, t0); err != nil {
		t.Fatalf("apply child: %v", err)
	}

	parent, err := rig.store.Span(ctx, "span-parent")
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent == nil {
		t.Fatal("parent placeholder not created")
	}
	if parent.State != model.SpanOpen || parent.StartTime != nil {
		t.Errorf("placeholder = state %q start %v, want open with unknown timing", parent.State, parent.StartTime)
	}

	// The parent's own start completes it without losing the placeholder row.
	if _, err := rig.engine.Apply(ctx, event("framework.run.start", "trace-1", "span-parent"), t0.Add(time.Second)); err != nil {
		t.Fatalf("apply parent start: %v", err)
	}
	parent, err = rig.store.Span(ctx, "span-parent")
	if err != nil {
		t.Fatalf("get parent: %v", err)
	}
	if parent.StartTime == nil {
		t.Error("parent start not set by its own event")
	}
}

func TestApply_CyclicParentChain(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	a := event("llm.call.start", "trace-1", "span-a")
	a.ParentSpanID = "span-b"
	if _, err := rig.engine.Apply(ctx, a, t0); err != nil {
		t.Fatalf("apply a: %v", err)
	}

	b := event("llm.call.start", "trace-1", "span-b")
	b.ParentSpanID = "span-a"
	if _, err := rig.engine.Apply(ctx, b, t0.Add(time.Second)); err != nil {
		t.Fatalf("apply b: %v", err)
	}

	sp, err := rig.store.Span(ctx, "span-b")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.RootSpanID != "span-b" {
		t.Errorf("cyclic span root = %q, want itself", sp.RootSpanID)
	}
	if n := testutil.ToFloat64(rig.metrics.ParentCycles); n != 1 {
		t.Errorf("parent cycle counter = %v, want 1", n)
	}
}

func TestApply_SelfParent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := event("llm.call.start", "trace-1", "span-a")
	ev.ParentSpanID = "span-a"
	if _, err := rig.engine.Apply(ctx, ev, t0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sp, err := rig.store.Span(ctx, "span-a")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.RootSpanID != "span-a" {
		t.Errorf("self-parent root = %q, want itself", sp.RootSpanID)
	}
	if n := testutil.ToFloat64(rig.metrics.ParentCycles); n != 1 {
		t.Errorf("parent cycle counter = %v, want 1", n)
	}
}

func TestApply_UncorrelatedEvent(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := event("other.heartbeat", "", "")
	stored, err := rig.engine.Apply(ctx, ev, t0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stored.TraceID != nil || stored.SpanID != nil {
		t.Errorf("correlation fields = (%v, %v), want nil", stored.TraceID, stored.SpanID)
	}
	if n := testutil.ToFloat64(rig.metrics.UncorrelatedEvents); n != 1 {
		t.Errorf("uncorrelated counter = %v, want 1", n)
	}

	// The agent is still tracked.
	agent, err := rig.store.Agent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent == nil {
		t.Fatal("agent not created for uncorrelated event")
	}
}

func TestApply_SessionFromAttributes(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := event("llm.call.start", "trace-1", "span-1")
	ev.Attributes = map[string]any{"session.id": "sess-1"}
	stored, err := rig.engine.Apply(ctx, ev, t0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if stored.SessionID == nil || *stored.SessionID != "sess-1" {
		t.Fatalf("event session = %v, want sess-1", stored.SessionID)
	}

	sess, err := rig.store.Session(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess == nil {
		t.Fatal("session not created from attribute")
	}
	if sess.AgentID != "agent-1" || !sess.StartTime.Equal(t0) {
		t.Errorf("session = %+v", sess)
	}
}

func TestApply_AgentIdentity(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := event("other.startup", "trace-1", "")
	ev.AgentID = "0123456789abcdef"
	ev.Attributes = map[string]any{
		"agent.version":     "2.1.0",
		"agent.environment": map[string]any{"os": "linux", "pid": 42.0},
	}
	if _, err := rig.engine.Apply(ctx, ev, t0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	agent, err := rig.store.Agent(ctx, "0123456789abcdef")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Name != "Agent-01234567" {
		t.Errorf("agent name = %q, want Agent-01234567", agent.Name)
	}
	if agent.Version != "2.1.0" {
		t.Errorf("agent version = %q", agent.Version)
	}
	if agent.Environment["os"] != "linux" {
		t.Errorf("agent environment = %v", agent.Environment)
	}
}

func TestApply_NonBoundaryEventWidensSpan(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if _, err := rig.engine.Apply(ctx, event("llm.call.start", "trace-1", "span-1"), t0); err != nil {
		t.Fatalf("apply start: %v", err)
	}
	if _, err := rig.engine.Apply(ctx, event("llm.call.progress", "trace-1", "span-1"), t0.Add(3*time.Second)); err != nil {
		t.Fatalf("apply progress: %v", err)
	}

	sp, err := rig.store.Span(ctx, "span-1")
	if err != nil {
		t.Fatalf("get span: %v", err)
	}
	if sp.State == model.SpanClosed {
		t.Error("non-finish event closed the span")
	}
	if sp.EndTime == nil || !sp.EndTime.Equal(t0.Add(3*time.Second)) {
		t.Errorf("span end = %v, want widened to progress timestamp", sp.EndTime)
	}
	if !sp.StartTime.Equal(t0) {
		t.Errorf("span start moved: %v", sp.StartTime)
	}
}

func TestApply_SpanlessEventDoesNotWidenTrace(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// A span-less event creates the trace row but leaves its bounds unset:
	// trace start/end are defined over contained span timestamps only.
	if _, err := rig.engine.Apply(ctx, event("framework.init", "trace-1", ""), t0); err != nil {
		t.Fatalf("apply span-less event: %v", err)
	}
	tr, err := rig.store.Trace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if tr == nil {
		t.Fatal("trace row missing")
	}
	if tr.StartTime != nil || tr.EndTime != nil {
		t.Errorf("trace bounds = %v..%v, want unset before any span", tr.StartTime, tr.EndTime)
	}

	if _, err := rig.engine.Apply(ctx, event("llm.call.start", "trace-1", "span-1"), t0.Add(10*time.Second)); err != nil {
		t.Fatalf("apply span event: %v", err)
	}
	// A later span-less event must not move the bounds either.
	if _, err := rig.engine.Apply(ctx, event("framework.shutdown", "trace-1", ""), t0.Add(time.Hour)); err != nil {
		t.Fatalf("apply trailing span-less event: %v", err)
	}

	tr, err = rig.store.Trace(ctx, "trace-1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if tr.StartTime == nil || !tr.StartTime.Equal(t0.Add(10*time.Second)) {
		t.Errorf("trace start = %v, want span timestamp", tr.StartTime)
	}
	if tr.EndTime == nil || !tr.EndTime.Equal(t0.Add(10*time.Second)) {
		t.Errorf("trace end = %v, want span timestamp", tr.EndTime)
	}
}
