package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/vigil-ai/vigil/internal/model"
)

// Getters return (nil, nil) when the row does not exist. The correlation
// engine relies on that to distinguish "unknown span" from a storage failure.

// Span returns the span row for id.
func (s *Store) Span(ctx context.Context, id string) (*model.Span, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT span_id, trace_id, parent_span_id, root_span_id, name, state, start_time, end_time
		FROM spans WHERE span_id = ?`, id)

	var (
		sp         model.Span
		state      string
		start, end sql.NullInt64
	)
	err := row.Scan(&sp.SpanID, &sp.TraceID, &sp.ParentSpanID, &sp.RootSpanID, &sp.Name, &state, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get span %s: %w", id, err)
	}
	sp.State = model.SpanState(state)
	sp.StartTime = timePtr(start)
	sp.EndTime = timePtr(end)
	return &sp, nil
}

// Agent returns the agent row for id.
func (s *Store) Agent(ctx context.Context, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, name, first_seen, last_seen, version, environment
		FROM agents WHERE agent_id = ?`, id)

	var (
		a                   model.Agent
		firstSeen, lastSeen int64
		env                 string
	)
	err := row.Scan(&a.AgentID, &a.Name, &firstSeen, &lastSeen, &a.Version, &env)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	a.FirstSeen = time.Unix(0, firstSeen)
	a.LastSeen = time.Unix(0, lastSeen)
	if err := json.Unmarshal([]byte(env), &a.Environment); err != nil {
		return nil, fmt.Errorf("decode agent environment: %w", err)
	}
	return &a, nil
}

// Session returns the session row for id.
func (s *Store) Session(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, agent_id, start_time, end_time
		FROM sessions WHERE session_id = ?`, id)

	var (
		sess  model.Session
		start int64
		end   sql.NullInt64
	)
	err := row.Scan(&sess.SessionID, &sess.AgentID, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.StartTime = time.Unix(0, start)
	sess.EndTime = timePtr(end)
	return &sess, nil
}

// Trace returns the trace row for id.
func (s *Store) Trace(ctx context.Context, id string) (*model.Trace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT trace_id, agent_id, start_time, end_time
		FROM traces WHERE trace_id = ?`, id)

	var (
		tr         model.Trace
		start, end sql.NullInt64
	)
	err := row.Scan(&tr.TraceID, &tr.AgentID, &start, &end)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trace %s: %w", id, err)
	}
	tr.StartTime = timePtr(start)
	tr.EndTime = timePtr(end)
	return &tr, nil
}

// Event returns the event row for id.
func (s *Store) Event(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, session_id, trace_id, span_id, parent_span_id,
			timestamp, name, level, event_type, schema_version, attributes, counterpart_id
		FROM events WHERE id = ?`, id)

	var (
		ev    model.Event
		ts    int64
		attrs string
	)
	err := row.Scan(&ev.ID, &ev.AgentID, &ev.SessionID, &ev.TraceID, &ev.SpanID, &ev.ParentSpanID,
		&ts, &ev.Name, &ev.Level, &ev.EventType, &ev.SchemaVersion, &attrs, &ev.CounterpartID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	ev.Timestamp = time.Unix(0, ts)
	if err := json.Unmarshal([]byte(attrs), &ev.Attributes); err != nil {
		return nil, fmt.Errorf("decode event attributes: %w", err)
	}
	return &ev, nil
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
