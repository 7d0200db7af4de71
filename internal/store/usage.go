package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vigil-ai/vigil/internal/model"
)

// LLMUsage scans llm interaction rows joined with their owning events,
// narrowed by filter. Rows come back in timestamp order so aggregation can
// compute first/last seen in one pass. The time window is half-open
// [From, To).
func (s *Store) LLMUsage(ctx context.Context, f model.UsageFilter) ([]model.UsageRow, error) {
	query := `
		SELECT e.id, e.counterpart_id, e.timestamp, e.agent_id,
			li.model, li.interaction_type, li.status, li.duration_ms,
			COALESCE(li.input_tokens, 0), COALESCE(li.output_tokens, 0), COALESCE(li.total_tokens, 0)
		FROM llm_interactions li
		JOIN events e ON e.id = li.event_id
		WHERE 1=1`
	var args []any

	if f.AgentID != "" {
		query += ` AND e.agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.TraceID != "" {
		query += ` AND e.trace_id = ?`
		args = append(args, f.TraceID)
	}
	if f.Model != "" {
		query += ` AND li.model = ?`
		args = append(args, f.Model)
	}
	if f.From != nil {
		query += ` AND e.timestamp >= ?`
		args = append(args, f.From.UnixNano())
	}
	if f.To != nil {
		query += ` AND e.timestamp < ?`
		args = append(args, f.To.UnixNano())
	}
	query += ` ORDER BY e.timestamp ASC, e.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan llm usage: %w", err)
	}
	defer rows.Close()

	var out []model.UsageRow
	for rows.Next() {
		var (
			r        model.UsageRow
			ts       int64
			duration sql.NullInt64
		)
		if err := rows.Scan(&r.EventID, &r.CounterpartID, &ts, &r.AgentID,
			&r.Model, &r.InteractionType, &r.Status, &duration,
			&r.InputTokens, &r.OutputTokens, &r.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		if duration.Valid {
			r.DurationMS = &duration.Int64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return out, nil
}
