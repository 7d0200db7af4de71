// Package analytics evaluates aggregate metric queries over the persisted
// llm interaction rows: totals, per-dimension breakdowns, time series, and
// token histograms. The engine only reads; every evaluation runs over a
// fresh filtered scan, so results reflect exactly the rows visible at query
// time.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Store provides the filtered row scan an evaluation runs over.
type Store interface {
	LLMUsage(ctx context.Context, f model.UsageFilter) ([]model.UsageRow, error)
}

// Token kinds understood by the pricing lookup.
const (
	TokenKindInput  = "input"
	TokenKindOutput = "output"
)

// Pricer resolves the per-token unit price for a model. The boolean is false
// for unknown models; their cost contribution is zero but the records still
// count in every other metric.
type Pricer interface {
	Price(modelName, tokenKind string) (float64, bool)
}

// Engine evaluates metric queries.
type Engine struct {
	store  Store
	pricer Pricer
	logger *slog.Logger
}

// New creates an engine.
func New(store Store, pricer Pricer, logger *slog.Logger) *Engine {
	return &Engine{store: store, pricer: pricer, logger: logger}
}

// Evaluate runs one aggregation. Invalid filter/granularity/breakdown
// combinations are rejected before any row is read; there are no partial
// results.
func (e *Engine) Evaluate(ctx context.Context, q types.MetricsQuery) (*types.AggregateResult, error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	rows, err := e.store.LLMUsage(ctx, model.UsageFilter(q.Filter))
	if err != nil {
		return nil, fmt.Errorf("evaluate metrics: %w", err)
	}
	units := foldUnits(rows)

	res := &types.AggregateResult{Total: e.computeMetrics(units)}
	switch q.Breakdown {
	case types.DimensionNone, "":
		// Total only.
	case types.DimensionAgent:
		res.Breakdown = e.groupBy(units, func(u requestUnit) string { return u.AgentID })
	case types.DimensionModel:
		res.Breakdown = e.groupBy(units, func(u requestUnit) string { return u.Model })
	case types.DimensionTime:
		res.Breakdown = e.timeBreakdown(units, q)
	case types.DimensionAgentModel:
		res.Breakdown = e.agentModelBreakdown(units, q)
	}
	return res, nil
}

func validate(q types.MetricsQuery) error {
	if q.Breakdown != "" && !q.Breakdown.Valid() {
		return fmt.Errorf("invalid breakdown dimension %q", q.Breakdown)
	}
	needsGranularity := q.Breakdown == types.DimensionTime ||
		(q.Breakdown == types.DimensionAgentModel && q.IncludeDistributions)
	if needsGranularity && !q.Granularity.Valid() {
		return fmt.Errorf("invalid granularity %q for breakdown %q", q.Granularity, q.Breakdown)
	}
	if q.Filter.From != nil && q.Filter.To != nil && !q.Filter.From.Before(*q.Filter.To) {
		return fmt.Errorf("empty time window: from %v is not before to %v", q.Filter.From, q.Filter.To)
	}
	return nil
}

// requestUnit is one logical request: a finish interaction row, or a start
// row whose counterpart never arrived. A paired start contributes nothing of
// its own; its finish carries the unit.
type requestUnit struct {
	Timestamp  time.Time
	AgentID    string
	Model      string
	Status     string
	DurationMS *int64
	Input      int64
	Output     int64
	Total      int64
}

func foldUnits(rows []model.UsageRow) []requestUnit {
	units := make([]requestUnit, 0, len(rows))
	for _, r := range rows {
		if r.InteractionType == model.InteractionStart && r.CounterpartID != nil {
			continue
		}
		units = append(units, requestUnit{
			Timestamp:  r.Timestamp,
			AgentID:    r.AgentID,
			Model:      r.Model,
			Status:     r.Status,
			DurationMS: r.DurationMS,
			Input:      r.InputTokens,
			Output:     r.OutputTokens,
			Total:      r.TotalTokens,
		})
	}
	return units
}

func (e *Engine) groupBy(units []requestUnit, key func(requestUnit) string) []types.BreakdownEntry {
	groups := make(map[string][]requestUnit)
	for _, u := range units {
		groups[key(u)] = append(groups[key(u)], u)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.BreakdownEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.BreakdownEntry{Key: k, Metrics: e.computeMetrics(groups[k])})
	}
	return out
}

// timeBreakdown emits one entry per bucket over a contiguous range: the
// filter window when both bounds are given, otherwise the observed span of
// the data. Buckets with no matching units report zero metrics rather than
// being omitted.
func (e *Engine) timeBreakdown(units []requestUnit, q types.MetricsQuery) []types.BreakdownEntry {
	groups := make(map[time.Time][]requestUnit)
	for _, u := range units {
		b := bucketOf(u.Timestamp, q.Granularity)
		groups[b] = append(groups[b], u)
	}

	first, last, ok := bucketRange(units, q)
	if !ok {
		return nil
	}

	var out []types.BreakdownEntry
	for b := first; !b.After(last); b = nextBucket(b, q.Granularity) {
		out = append(out, types.BreakdownEntry{
			Key:     b.Format(time.RFC3339),
			Metrics: e.computeMetrics(groups[b]),
		})
	}
	return out
}

func bucketRange(units []requestUnit, q types.MetricsQuery) (first, last time.Time, ok bool) {
	if q.Filter.From != nil && q.Filter.To != nil {
		first = bucketOf(*q.Filter.From, q.Granularity)
		last = bucketOf(q.Filter.To.Add(-time.Nanosecond), q.Granularity)
		return first, last, true
	}
	if len(units) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first = bucketOf(units[0].Timestamp, q.Granularity)
	last = first
	for _, u := range units[1:] {
		b := bucketOf(u.Timestamp, q.Granularity)
		if b.Before(first) {
			first = b
		}
		if b.After(last) {
			last = b
		}
	}
	return first, last, true
}

// bucketOf truncates ts to its bucket start. Day buckets are calendar days
// in UTC, not rolling 24h periods.
func bucketOf(ts time.Time, g types.Granularity) time.Time {
	ts = ts.UTC()
	if g == types.GranularityDay {
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
	return ts.Truncate(g.Duration())
}

func nextBucket(b time.Time, g types.Granularity) time.Time {
	if g == types.GranularityDay {
		return b.AddDate(0, 0, 1)
	}
	return b.Add(g.Duration())
}
