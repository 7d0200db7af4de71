package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/vigil-ai/vigil/internal/model"
)

// ApplyEvent writes every entity row touched by one correlated event in a
// single transaction: agent widening, session/trace boundary widening, span
// upserts, the event row itself, and counterpart pairing. The returned bool
// reports whether a start/finish pair was linked.
func (s *Store) ApplyEvent(ctx context.Context, mut *model.EventMutation) (int64, bool, error) {
	tx, err := s.w.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin apply tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertAgent(ctx, tx, &mut.Agent); err != nil {
		return 0, false, err
	}
	if mut.Session != nil {
		if err := upsertSession(ctx, tx, mut.Session); err != nil {
			return 0, false, err
		}
	}
	if mut.Trace != nil {
		if err := upsertTrace(ctx, tx, mut.Trace); err != nil {
			return 0, false, err
		}
	}
	for i := range mut.Spans {
		if err := upsertSpan(ctx, tx, &mut.Spans[i]); err != nil {
			return 0, false, err
		}
	}

	eventID, err := insertEvent(ctx, tx, &mut.Event)
	if err != nil {
		return 0, false, err
	}

	paired := false
	if mut.Pair.Kind != model.PairNone {
		paired, err = linkCounterpart(ctx, tx, eventID, mut.Event.Timestamp, &mut.Pair)
		if err != nil {
			return 0, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit apply tx: %w", err)
	}
	return eventID, paired, nil
}

func upsertAgent(ctx context.Context, tx *sql.Tx, a *model.Agent) error {
	env, err := json.Marshal(a.Environment)
	if err != nil {
		return fmt.Errorf("marshal agent environment: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO agents (agent_id, name, first_seen, last_seen, version, environment)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			first_seen  = MIN(agents.first_seen, excluded.first_seen),
			last_seen   = MAX(agents.last_seen, excluded.last_seen),
			version     = CASE WHEN excluded.version != '' THEN excluded.version ELSE agents.version END,
			environment = CASE WHEN excluded.environment != '{}' THEN excluded.environment ELSE agents.environment END`,
		a.AgentID, a.Name, a.FirstSeen.UnixNano(), a.LastSeen.UnixNano(), a.Version, string(env),
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", a.AgentID, err)
	}
	return nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, sess *model.Session) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, agent_id, start_time, end_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			start_time = MIN(sessions.start_time, excluded.start_time),
			end_time = CASE
				WHEN sessions.end_time IS NULL THEN excluded.end_time
				WHEN excluded.end_time IS NULL THEN sessions.end_time
				ELSE MAX(sessions.end_time, excluded.end_time)
			END`,
		sess.SessionID, sess.AgentID, sess.StartTime.UnixNano(), nanosPtr(sess.EndTime),
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

func upsertTrace(ctx context.Context, tx *sql.Tx, tr *model.Trace) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO traces (trace_id, agent_id, start_time, end_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trace_id) DO UPDATE SET
			start_time = CASE
				WHEN traces.start_time IS NULL THEN excluded.start_time
				WHEN excluded.start_time IS NULL THEN traces.start_time
				ELSE MIN(traces.start_time, excluded.start_time)
			END,
			end_time = CASE
				WHEN traces.end_time IS NULL THEN excluded.end_time
				WHEN excluded.end_time IS NULL THEN traces.end_time
				ELSE MAX(traces.end_time, excluded.end_time)
			END`,
		tr.TraceID, tr.AgentID, nanosPtr(tr.StartTime), nanosPtr(tr.EndTime),
	)
	if err != nil {
		return fmt.Errorf("upsert trace %s: %w", tr.TraceID, err)
	}
	return nil
}

func upsertSpan(ctx context.Context, tx *sql.Tx, up *model.SpanUpsert) error {
	sp := &up.Span
	conflict := `DO UPDATE SET
			trace_id       = excluded.trace_id,
			parent_span_id = excluded.parent_span_id,
			root_span_id   = excluded.root_span_id,
			name           = excluded.name,
			state          = excluded.state,
			start_time     = excluded.start_time,
			end_time       = excluded.end_time`
	if up.IfAbsent {
		conflict = `DO NOTHING`
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO spans (span_id, trace_id, parent_span_id, root_span_id, name, state, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(span_id) `+conflict,
		sp.SpanID, sp.TraceID, sp.ParentSpanID, sp.RootSpanID, sp.Name, string(sp.State),
		nanosPtr(sp.StartTime), nanosPtr(sp.EndTime),
	)
	if err != nil {
		return fmt.Errorf("upsert span %s: %w", sp.SpanID, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *model.Event) (int64, error) {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return 0, fmt.Errorf("marshal event attributes: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (agent_id, session_id, trace_id, span_id, parent_span_id,
			timestamp, name, level, event_type, schema_version, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.AgentID, ev.SessionID, ev.TraceID, ev.SpanID, ev.ParentSpanID,
		ev.Timestamp.UnixNano(), ev.Name, ev.Level, ev.EventType, ev.SchemaVersion, string(attrs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", ev.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	return id, nil
}

// linkCounterpart searches the same (trace, span) for the nearest unpaired
// event with the opposite start/finish pattern within the pairing window and
// links the two bidirectionally. Called from whichever side arrives second,
// so arrival order does not matter.
func linkCounterpart(ctx context.Context, tx *sql.Tx, eventID int64, ts time.Time, pair *model.PairRequest) (bool, error) {
	var patterns string
	switch pair.Kind {
	case model.PairFinish:
		patterns = `(name LIKE '%.start' OR name LIKE '%.begin')`
	case model.PairStart:
		patterns = `(name LIKE '%.finish' OR name LIKE '%.end' OR name LIKE '%.stop')`
	default:
		return false, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id FROM events
		WHERE trace_id = ? AND span_id = ? AND id != ?
		  AND counterpart_id IS NULL
		  AND `+patterns+`
		  AND ABS(timestamp - ?) <= ?
		ORDER BY ABS(timestamp - ?) ASC
		LIMIT 1`,
		pair.TraceID, pair.SpanID, eventID, ts.UnixNano(), pair.Window.Nanoseconds(), ts.UnixNano(),
	)

	var otherID int64
	if err := row.Scan(&otherID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("find counterpart: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET counterpart_id = ? WHERE id = ?`, otherID, eventID); err != nil {
		return false, fmt.Errorf("link counterpart: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET counterpart_id = ? WHERE id = ?`, eventID, otherID); err != nil {
		return false, fmt.Errorf("link counterpart: %w", err)
	}
	return true, nil
}

func nanosPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
