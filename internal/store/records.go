package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/vigil-ai/vigil/internal/model"
)

// Typed sub-record writers. Each row joins back to its owning event by
// event_id; absence of a sub-record field is stored as NULL or the zero
// default, never invented.

// InsertLLMInteraction stores the typed record for an llm.* event.
func (s *Store) InsertLLMInteraction(ctx context.Context, rec *model.LLMInteraction) (int64, error) {
	extra, err := json.Marshal(orEmpty(rec.Extra))
	if err != nil {
		return 0, fmt.Errorf("marshal llm extra: %w", err)
	}
	res, err := s.w.ExecContext(ctx, `
		INSERT INTO llm_interactions (
			event_id, interaction_type, vendor, model,
			request_timestamp, response_timestamp, duration_ms,
			input_tokens, output_tokens, total_tokens,
			temperature, max_tokens, top_p, frequency_penalty, presence_penalty,
			response_id, stop_reason, status, request_data, response_content, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.InteractionType, rec.Vendor, rec.Model,
		nanosPtr(rec.RequestTimestamp), nanosPtr(rec.ResponseTimestamp), rec.DurationMS,
		rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.Temperature, rec.MaxTokens, rec.TopP, rec.FrequencyPenalty, rec.PresencePenalty,
		rec.ResponseID, rec.StopReason, rec.Status, rec.RequestData, rec.ResponseContent, string(extra),
	)
	if err != nil {
		return 0, fmt.Errorf("insert llm interaction for event %d: %w", rec.EventID, err)
	}
	return lastID(res)
}

// InsertToolInteraction stores the typed record for a tool.* event.
func (s *Store) InsertToolInteraction(ctx context.Context, rec *model.ToolInteraction) (int64, error) {
	extra, err := json.Marshal(orEmpty(rec.Extra))
	if err != nil {
		return 0, fmt.Errorf("marshal tool extra: %w", err)
	}
	res, err := s.w.ExecContext(ctx, `
		INSERT INTO tool_interactions (
			event_id, interaction_type, tool_name, tool_id,
			params, result, status, duration_ms, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.InteractionType, rec.ToolName, rec.ToolID,
		rec.Params, rec.Result, rec.Status, rec.DurationMS, string(extra),
	)
	if err != nil {
		return 0, fmt.Errorf("insert tool interaction for event %d: %w", rec.EventID, err)
	}
	return lastID(res)
}

// InsertSecurityAlert stores the typed record for a security.* event and
// links any triggering events in the same statement batch.
func (s *Store) InsertSecurityAlert(ctx context.Context, rec *model.SecurityAlert) (int64, error) {
	keywords, err := json.Marshal(rec.Keywords)
	if err != nil {
		return 0, fmt.Errorf("marshal alert keywords: %w", err)
	}
	extra, err := json.Marshal(orEmpty(rec.Extra))
	if err != nil {
		return 0, fmt.Errorf("marshal alert extra: %w", err)
	}

	tx, err := s.w.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin alert tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO security_alerts (event_id, alert_level, keywords, content_sample, extra)
		VALUES (?, ?, ?, ?, ?)`,
		rec.EventID, rec.AlertLevel, string(keywords), rec.ContentSample, string(extra),
	)
	if err != nil {
		return 0, fmt.Errorf("insert security alert for event %d: %w", rec.EventID, err)
	}
	alertID, err := lastID(res)
	if err != nil {
		return 0, err
	}

	for _, trigID := range rec.TriggeringEventIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO security_alert_triggers (alert_id, triggering_event_id)
			VALUES (?, ?)`, alertID, trigID); err != nil {
			return 0, fmt.Errorf("link alert trigger %d: %w", trigID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit alert tx: %w", err)
	}
	return alertID, nil
}

// InsertFrameworkEvent stores the typed record for a framework.* event.
func (s *Store) InsertFrameworkEvent(ctx context.Context, rec *model.FrameworkEvent) (int64, error) {
	extra, err := json.Marshal(orEmpty(rec.Extra))
	if err != nil {
		return 0, fmt.Errorf("marshal framework extra: %w", err)
	}
	res, err := s.w.ExecContext(ctx, `
		INSERT INTO framework_events (event_id, framework, action, version, extra)
		VALUES (?, ?, ?, ?, ?)`,
		rec.EventID, rec.Framework, rec.Action, rec.Version, string(extra),
	)
	if err != nil {
		return 0, fmt.Errorf("insert framework event for event %d: %w", rec.EventID, err)
	}
	return lastID(res)
}

// PrecedingEventIDs returns up to limit event ids in the same span strictly
// before ts and no older than ts-window, newest first. Security alerts use
// this to attribute likely triggering events.
func (s *Store) PrecedingEventIDs(ctx context.Context, spanID string, ts time.Time, window time.Duration, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM events
		WHERE span_id = ? AND timestamp < ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		spanID, ts.UnixNano(), ts.Add(-window).UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("preceding events for span %s: %w", spanID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan preceding event: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preceding events: %w", err)
	}
	return ids, nil
}

// AlertTriggers returns the triggering event ids linked to an alert.
func (s *Store) AlertTriggers(ctx context.Context, alertID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT triggering_event_id FROM security_alert_triggers
		WHERE alert_id = ? ORDER BY triggering_event_id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("alert triggers for %d: %w", alertID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan alert trigger: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LLMInteractionByEvent returns the llm sub-record owned by eventID, or
// (nil, nil) when none exists.
func (s *Store) LLMInteractionByEvent(ctx context.Context, eventID int64) (*model.LLMInteraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, interaction_type, vendor, model,
			request_timestamp, response_timestamp, duration_ms,
			input_tokens, output_tokens, total_tokens,
			temperature, max_tokens, top_p, frequency_penalty, presence_penalty,
			response_id, stop_reason, status, request_data, response_content, extra
		FROM llm_interactions WHERE event_id = ?`, eventID)

	var (
		rec      model.LLMInteraction
		reqTS    sql.NullInt64
		respTS   sql.NullInt64
		extraRaw string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.InteractionType, &rec.Vendor, &rec.Model,
		&reqTS, &respTS, &rec.DurationMS,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
		&rec.Temperature, &rec.MaxTokens, &rec.TopP, &rec.FrequencyPenalty, &rec.PresencePenalty,
		&rec.ResponseID, &rec.StopReason, &rec.Status, &rec.RequestData, &rec.ResponseContent, &extraRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get llm interaction for event %d: %w", eventID, err)
	}
	rec.RequestTimestamp = timePtr(reqTS)
	rec.ResponseTimestamp = timePtr(respTS)
	if err := json.Unmarshal([]byte(extraRaw), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode llm extra: %w", err)
	}
	return &rec, nil
}

// ToolInteractionByEvent returns the tool sub-record owned by eventID, or
// (nil, nil) when none exists.
func (s *Store) ToolInteractionByEvent(ctx context.Context, eventID int64) (*model.ToolInteraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, interaction_type, tool_name, tool_id,
			params, result, status, duration_ms, extra
		FROM tool_interactions WHERE event_id = ?`, eventID)

	var (
		rec      model.ToolInteraction
		extraRaw string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.InteractionType, &rec.ToolName, &rec.ToolID,
		&rec.Params, &rec.Result, &rec.Status, &rec.DurationMS, &extraRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tool interaction for event %d: %w", eventID, err)
	}
	if err := json.Unmarshal([]byte(extraRaw), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode tool extra: %w", err)
	}
	return &rec, nil
}

// SecurityAlertByEvent returns the security sub-record owned by eventID with
// its trigger links resolved, or (nil, nil) when none exists.
func (s *Store) SecurityAlertByEvent(ctx context.Context, eventID int64) (*model.SecurityAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, alert_level, keywords, content_sample, extra
		FROM security_alerts WHERE event_id = ?`, eventID)

	var (
		rec         model.SecurityAlert
		keywordsRaw string
		extraRaw    string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.AlertLevel, &keywordsRaw, &rec.ContentSample, &extraRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get security alert for event %d: %w", eventID, err)
	}
	if err := json.Unmarshal([]byte(keywordsRaw), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("decode alert keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(extraRaw), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode alert extra: %w", err)
	}
	rec.TriggeringEventIDs, err = s.AlertTriggers(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FrameworkEventByEvent returns the framework sub-record owned by eventID,
// or (nil, nil) when none exists.
func (s *Store) FrameworkEventByEvent(ctx context.Context, eventID int64) (*model.FrameworkEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, framework, action, version, extra
		FROM framework_events WHERE event_id = ?`, eventID)

	var (
		rec      model.FrameworkEvent
		extraRaw string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.Framework, &rec.Action, &rec.Version, &extraRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get framework event for event %d: %w", eventID, err)
	}
	if err := json.Unmarshal([]byte(extraRaw), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode framework extra: %w", err)
	}
	return &rec, nil
}

func lastID(res interface{ LastInsertId() (int64, error) }) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
