package record

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/internal/store"
	"github.com/vigil-ai/vigil/pkg/types"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, slog.Default()), s
}

// storeEvent persists a bare event row so sub-records have an owner.
func storeEvent(t *testing.T, s *store.Store, name, spanID string, ts time.Time, level string, attrs map[string]any) *model.Event {
	t.Helper()
	mut := &model.EventMutation{
		Event: model.Event{
			AgentID:       "agent-1",
			Timestamp:     ts,
			Name:          name,
			Level:         level,
			EventType:     types.ClassifyEventName(name),
			SchemaVersion: "1.0",
			Attributes:    attrs,
		},
		Agent: model.Agent{AgentID: "agent-1", Name: "Agent-agent-1", FirstSeen: ts, LastSeen: ts},
	}
	if spanID != "" {
		traceID := "trace-1"
		mut.Event.TraceID = &traceID
		mut.Event.SpanID = &spanID
	}
	id, _, err := s.ApplyEvent(context.Background(), mut)
	if err != nil {
		t.Fatalf("apply event: %v", err)
	}
	mut.Event.ID = id
	return &mut.Event
}

func TestBuildLLM_StartRequestSide(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "llm.call.start", "span-1", t0, types.LevelInfo, map[string]any{
		"llm.vendor":           "anthropic",
		"llm.model":            "claude-3-haiku",
		"temperature":          0.7,
		"max_tokens_to_sample": 1024.0,
		"llm.request.data":     map[string]any{"messages": []any{}},
		"custom_tag":           "abc",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}

	rec, err := s.LLMInteractionByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec == nil {
		t.Fatal("no llm record written")
	}
	if rec.InteractionType != model.InteractionStart {
		t.Errorf("interaction type = %q", rec.InteractionType)
	}
	if rec.Model != "claude-3-haiku" || rec.Vendor != "anthropic" {
		t.Errorf("model/vendor = %q/%q", rec.Model, rec.Vendor)
	}
	if rec.Temperature == nil || *rec.Temperature != 0.7 {
		t.Errorf("temperature = %v", rec.Temperature)
	}
	// The vendor alias resolves into the canonical column.
	if rec.MaxTokens == nil || *rec.MaxTokens != 1024 {
		t.Errorf("max_tokens = %v", rec.MaxTokens)
	}
	if rec.RequestData != `{"messages":[]}` {
		t.Errorf("request data = %q", rec.RequestData)
	}
	// Request timestamp backfills from the event timestamp.
	if rec.RequestTimestamp == nil || !rec.RequestTimestamp.Equal(t0) {
		t.Errorf("request timestamp = %v", rec.RequestTimestamp)
	}
	// Response-side columns stay empty on a start record.
	if rec.InputTokens != nil || rec.Status != "" {
		t.Errorf("response side populated on start: tokens=%v status=%q", rec.InputTokens, rec.Status)
	}
	if rec.Extra["custom_tag"] != "abc" {
		t.Errorf("unpromoted attribute lost: %v", rec.Extra)
	}
}

func TestBuildLLM_FinishResponseSide(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "llm.call.finish", "span-1", t0.Add(5*time.Second), types.LevelInfo, map[string]any{
		"llm.vendor":             "openai",
		"llm.model":              "gpt-4o",
		"input_tokens":           100.0,
		"output_tokens":          50.0,
		"duration_ms":            1200.0,
		"finish_reason":          "stop",
		"llm.response.id":        "resp-1",
		"llm.response.timestamp": "2025-06-01T12:00:05Z",
		"status":                 "success",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}

	rec, err := s.LLMInteractionByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec.InteractionType != model.InteractionFinish {
		t.Errorf("interaction type = %q", rec.InteractionType)
	}
	// Total backfilled from input+output.
	if rec.TotalTokens == nil || *rec.TotalTokens != 150 {
		t.Errorf("total tokens = %v", rec.TotalTokens)
	}
	if rec.DurationMS == nil || *rec.DurationMS != 1200 {
		t.Errorf("duration = %v", rec.DurationMS)
	}
	// The openai dialect spells stop_reason as finish_reason.
	if rec.StopReason != "stop" {
		t.Errorf("stop reason = %q", rec.StopReason)
	}
	if rec.Status != model.StatusSuccess {
		t.Errorf("status = %q", rec.Status)
	}
	want := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	if rec.ResponseTimestamp == nil || !rec.ResponseTimestamp.Equal(want) {
		t.Errorf("response timestamp = %v, want %v", rec.ResponseTimestamp, want)
	}
	// Request-side parameters are never written by a finish record.
	if rec.Temperature != nil || rec.MaxTokens != nil {
		t.Errorf("request side populated on finish: %v %v", rec.Temperature, rec.MaxTokens)
	}
}

func TestBuildLLM_StatusFromLevel(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "llm.call.finish", "span-1", t0, types.LevelError, map[string]any{
		"llm.model": "gpt-4o",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}
	rec, err := s.LLMInteractionByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec.Status != model.StatusError {
		t.Errorf("status = %q, want error derived from level", rec.Status)
	}
}

func TestBuildTool(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "tool.execution.finish", "span-1", t0, types.LevelInfo, map[string]any{
		"tool.name":         "web_search",
		"tool.id":           "tool-7",
		"result":            map[string]any{"hits": 3.0},
		"execution_time_ms": 45.0,
		"status":            "success",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}

	rec, err := s.ToolInteractionByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec == nil {
		t.Fatal("no tool record written")
	}
	if rec.ToolName != "web_search" || rec.ToolID != "tool-7" {
		t.Errorf("tool identity = %q/%q", rec.ToolName, rec.ToolID)
	}
	if rec.Result != `{"hits":3}` {
		t.Errorf("result = %q", rec.Result)
	}
	if rec.DurationMS == nil || *rec.DurationMS != 45 {
		t.Errorf("duration = %v", rec.DurationMS)
	}
	if rec.Status != model.StatusSuccess {
		t.Errorf("status = %q", rec.Status)
	}
}

func TestBuildSecurity_LinksTriggers(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	first := storeEvent(t, s, "llm.call.start", "span-1", t0, types.LevelInfo, nil)
	second := storeEvent(t, s, "llm.call.finish", "span-1", t0.Add(time.Second), types.LevelInfo, nil)
	// An event in a different span must not be linked.
	storeEvent(t, s, "llm.call.start", "span-2", t0.Add(time.Second), types.LevelInfo, nil)
	// Nor one outside the trigger window.
	storeEvent(t, s, "tool.old.start", "span-1", t0.Add(-2*time.Minute), types.LevelInfo, nil)

	alertEv := storeEvent(t, s, "security.content.suspicious", "span-1", t0.Add(2*time.Second), types.LevelWarning, map[string]any{
		"security.alert_level":    "high",
		"security.keywords":       []any{"drop", "table"},
		"security.content_sample": "DROP TABLE users",
	})
	if err := b.Build(ctx, alertEv); err != nil {
		t.Fatalf("build: %v", err)
	}

	rec, err := s.SecurityAlertByEvent(ctx, alertEv.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec == nil {
		t.Fatal("no security record written")
	}
	if rec.AlertLevel != "high" {
		t.Errorf("alert level = %q", rec.AlertLevel)
	}
	if len(rec.Keywords) != 2 || rec.Keywords[0] != "drop" {
		t.Errorf("keywords = %v", rec.Keywords)
	}
	if len(rec.TriggeringEventIDs) != 2 {
		t.Fatalf("triggers = %v, want the two same-span events in the window", rec.TriggeringEventIDs)
	}
	got := map[int64]bool{}
	for _, id := range rec.TriggeringEventIDs {
		got[id] = true
	}
	if !got[first.ID] || !got[second.ID] {
		t.Errorf("triggers = %v, want {%d, %d}", rec.TriggeringEventIDs, first.ID, second.ID)
	}
}

func TestBuildSecurity_UncorrelatedAlertHasNoTriggers(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "security.content.suspicious", "", t0, types.LevelWarning, map[string]any{
		"security.alert_level": "low",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}
	rec, err := s.SecurityAlertByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rec.TriggeringEventIDs) != 0 {
		t.Errorf("triggers = %v, want none for an uncorrelated alert", rec.TriggeringEventIDs)
	}
}

func TestBuildFramework(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "framework.initialization", "span-1", t0, types.LevelInfo, map[string]any{
		"framework.name":    "langchain",
		"framework.action":  "initialize",
		"framework.version": "0.2.1",
	})
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}

	rec, err := s.FrameworkEventByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec == nil {
		t.Fatal("no framework record written")
	}
	if rec.Framework != "langchain" || rec.Action != "initialize" || rec.Version != "0.2.1" {
		t.Errorf("framework record = %+v", rec)
	}
}

func TestBuild_OtherEventHasNoRecord(t *testing.T) {
	b, s := newBuilder(t)
	ctx := context.Background()

	ev := storeEvent(t, s, "custom.heartbeat", "span-1", t0, types.LevelDebug, nil)
	if err := b.Build(ctx, ev); err != nil {
		t.Fatalf("build: %v", err)
	}
	rec, err := s.LLMInteractionByEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec != nil {
		t.Errorf("unexpected sub-record for other event: %+v", rec)
	}
}
