// Package correlate turns a flat, unordered stream of telemetry events into
// the session/trace/span hierarchy. Each event is correlated independently:
// the engine reads the current span chain, computes the full set of entity
// writes, and hands them to the store as one atomic mutation. Updates to the
// same key are serialized through a striped mutex so concurrent ingestion
// never loses a widening.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-ai/vigil/internal/attr"
	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Store is the persistence surface the engine depends on.
type Store interface {
	Span(ctx context.Context, id string) (*model.Span, error)
	ApplyEvent(ctx context.Context, mut *model.EventMutation) (int64, bool, error)
}

// Engine correlates validated events into the entity hierarchy.
type Engine struct {
	store      Store
	metrics    *diag.Metrics
	logger     *slog.Logger
	pairWindow time.Duration
	locks      stripedLocks
}

// New creates an engine. pairWindow bounds the retroactive start/finish
// pairing search; events further apart stay valid standalone facts.
func New(store Store, metrics *diag.Metrics, logger *slog.Logger, pairWindow time.Duration) *Engine {
	return &Engine{
		store:      store,
		metrics:    metrics,
		logger:     logger,
		pairWindow: pairWindow,
	}
}

// Apply correlates one validated event and persists it together with every
// entity it touches. ts is the event's parsed timestamp. The returned event
// carries the system-assigned id. Storage failures propagate to the caller
// unretried; retry policy belongs to the request layer.
func (e *Engine) Apply(ctx context.Context, ev *types.TelemetryEvent, ts time.Time) (*model.Event, error) {
	vendor, _ := attr.String(ev.Attributes, attr.FieldVendor, "")

	schemaVersion := ev.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = types.SupportedSchemaVersion
	}
	mut := &model.EventMutation{
		Event: model.Event{
			AgentID:       ev.AgentID,
			Timestamp:     ts,
			Name:          ev.Name,
			Level:         ev.Level,
			EventType:     types.ClassifyEventName(ev.Name),
			SchemaVersion: schemaVersion,
			Attributes:    ev.Attributes,
		},
		Agent: e.agentFor(ev, ts, vendor),
	}

	if sessionID, ok := attr.String(ev.Attributes, attr.FieldSessionID, vendor); ok && sessionID != "" {
		end := ts
		mut.Event.SessionID = &sessionID
		mut.Session = &model.Session{
			SessionID: sessionID,
			AgentID:   ev.AgentID,
			StartTime: ts,
			EndTime:   &end,
		}
	}

	// Serialize on the span when there is one, otherwise on the agent: the
	// read-modify-write below must not race a sibling event for the same key.
	lockKey := ev.SpanID
	if lockKey == "" {
		lockKey = ev.AgentID
	}
	unlock := e.locks.lock(lockKey)
	defer unlock()

	if ev.TraceID == "" {
		// No correlation key: store the event as an uncorrelated fact.
		e.metrics.UncorrelatedEvents.Inc()
		e.logger.Debug("storing uncorrelated event", "name", ev.Name, "agent_id", ev.AgentID)
	} else {
		traceID := ev.TraceID
		mut.Event.TraceID = &traceID
		mut.Trace = &model.Trace{
			TraceID: traceID,
			AgentID: ev.AgentID,
		}

		if ev.SpanID != "" {
			// Trace bounds are the min/max over contained span timestamps;
			// a span-less event keeps the trace row alive without moving them.
			boundary := ts
			mut.Trace.StartTime = &boundary
			mut.Trace.EndTime = &boundary
			if err := e.correlateSpan(ctx, ev, ts, mut); err != nil {
				return nil, err
			}
		}
	}

	id, paired, err := e.store.ApplyEvent(ctx, mut)
	if err != nil {
		return nil, fmt.Errorf("apply event %s: %w", ev.Name, err)
	}
	if paired {
		e.metrics.PairingsCompleted.Inc()
	}
	e.metrics.EventsIngested.WithLabelValues(mut.Event.EventType).Inc()

	mut.Event.ID = id
	return &mut.Event, nil
}

// correlateSpan computes the span writes for an event carrying a span id:
// state transition, timestamp widening, parent placeholder, root resolution,
// and the pairing request. Caller holds the span's stripe lock.
func (e *Engine) correlateSpan(ctx context.Context, ev *types.TelemetryEvent, ts time.Time, mut *model.EventMutation) error {
	spanID := ev.SpanID
	mut.Event.SpanID = &spanID
	if ev.ParentSpanID != "" {
		parentID := ev.ParentSpanID
		mut.Event.ParentSpanID = &parentID
	}

	existing, err := e.store.Span(ctx, spanID)
	if err != nil {
		return err
	}

	var sp model.Span
	if existing != nil {
		sp = *existing
	} else {
		sp = model.Span{
			SpanID:  spanID,
			TraceID: ev.TraceID,
			Name:    spanDisplayName(ev.Name),
			State:   model.SpanOpen,
		}
	}
	if sp.Name == "" {
		sp.Name = spanDisplayName(ev.Name)
	}
	if sp.ParentSpanID == nil && ev.ParentSpanID != "" {
		parentID := ev.ParentSpanID
		sp.ParentSpanID = &parentID
	}

	switch {
	case types.IsStartEvent(ev.Name):
		if sp.StartTime == nil {
			start := ts
			sp.StartTime = &start
		}
		if existing == nil {
			sp.State = model.SpanOpen
		}
	case types.IsFinishEvent(ev.Name):
		if sp.EndTime == nil || ts.After(*sp.EndTime) {
			end := ts
			sp.EndTime = &end
		}
		sp.State = model.SpanClosed
	default:
		if sp.EndTime == nil || ts.After(*sp.EndTime) {
			end := ts
			sp.EndTime = &end
		}
		if existing == nil {
			sp.State = model.SpanActive
			start := ts
			sp.StartTime = &start
		}
	}

	root, err := e.resolveRoot(ctx, spanID, sp.ParentSpanID)
	if err != nil {
		return err
	}
	sp.RootSpanID = root

	if sp.ParentSpanID != nil {
		// Declare the parent in a minimal open state; its own events will
		// complete it. Must not overwrite a parent already seen.
		mut.Spans = append(mut.Spans, model.SpanUpsert{
			Span: model.Span{
				SpanID:     *sp.ParentSpanID,
				TraceID:    ev.TraceID,
				RootSpanID: root,
				State:      model.SpanOpen,
			},
			IfAbsent: true,
		})
	}
	mut.Spans = append(mut.Spans, model.SpanUpsert{Span: sp})

	switch {
	case types.IsStartEvent(ev.Name):
		mut.Pair = model.PairRequest{Kind: model.PairStart, TraceID: ev.TraceID, SpanID: spanID, Window: e.pairWindow}
	case types.IsFinishEvent(ev.Name):
		mut.Pair = model.PairRequest{Kind: model.PairFinish, TraceID: ev.TraceID, SpanID: spanID, Window: e.pairWindow}
	}
	return nil
}

// resolveRoot walks the parent chain to the span with no parent. The walk is
// bounded by a visited set: a span listed as its own ancestor is treated as
// its own root and the inconsistency is counted instead of looping.
func (e *Engine) resolveRoot(ctx context.Context, spanID string, parentID *string) (string, error) {
	if parentID == nil {
		return spanID, nil
	}

	visited := map[string]bool{spanID: true}
	root := spanID
	cur := *parentID
	for cur != "" {
		if visited[cur] {
			e.metrics.ParentCycles.Inc()
			e.logger.Warn("cyclic span parent chain, span treated as its own root",
				"span_id", spanID, "ancestor", cur)
			return spanID, nil
		}
		visited[cur] = true
		root = cur

		sp, err := e.store.Span(ctx, cur)
		if err != nil {
			return "", err
		}
		if sp == nil || sp.ParentSpanID == nil {
			// Unknown ancestors become placeholder roots until their own
			// events declare a parent.
			break
		}
		cur = *sp.ParentSpanID
	}
	return root, nil
}

func (e *Engine) agentFor(ev *types.TelemetryEvent, ts time.Time, vendor string) model.Agent {
	a := model.Agent{
		AgentID:   ev.AgentID,
		Name:      agentDisplayName(ev.AgentID),
		FirstSeen: ts,
		LastSeen:  ts,
	}
	if v, ok := attr.String(ev.Attributes, attr.FieldAgentVer, vendor); ok {
		a.Version = v
	}
	if env, ok := attr.Resolve(ev.Attributes, attr.FieldAgentEnv, vendor); ok {
		if m, ok := env.(map[string]any); ok {
			a.Environment = make(map[string]string, len(m))
			for k, v := range m {
				if s, ok := v.(string); ok {
					a.Environment[k] = s
				}
			}
		}
	}
	return a
}
