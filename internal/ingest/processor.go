// Package ingest is the validation boundary in front of the correlation
// engine. Malformed events are rejected here, per item, before any entity is
// touched; a failing event never aborts its batch siblings.
package ingest

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/segmentio/encoding/json"

	"github.com/vigil-ai/vigil/internal/diag"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Correlator persists one validated event with its entity updates.
type Correlator interface {
	Apply(ctx context.Context, ev *types.TelemetryEvent, ts time.Time) (*model.Event, error)
}

// RecordBuilder persists the typed sub-record for a stored event.
type RecordBuilder interface {
	Build(ctx context.Context, ev *model.Event) error
}

// Processor validates and processes telemetry submissions.
type Processor struct {
	correlator Correlator
	records    RecordBuilder
	metrics    *diag.Metrics
	logger     *slog.Logger
	schema     *jsonschema.Schema
}

// New creates a processor with the telemetry payload schema compiled.
func New(correlator Correlator, records RecordBuilder, metrics *diag.Metrics, logger *slog.Logger) (*Processor, error) {
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Processor{
		correlator: correlator,
		records:    records,
		metrics:    metrics,
		logger:     logger,
		schema:     sch,
	}, nil
}

// ProcessEvent validates and processes a single raw event payload.
func (p *Processor) ProcessEvent(ctx context.Context, raw []byte) error {
	ev, ts, err := p.validate(raw)
	if err != nil {
		return err
	}

	stored, err := p.correlator.Apply(ctx, ev, ts)
	if err != nil {
		return err
	}
	if err := p.records.Build(ctx, stored); err != nil {
		return err
	}
	return nil
}

// ProcessBatch processes each raw event independently and reports per-index
// outcomes. A failing event never blocks or rolls back its siblings.
func (p *Processor) ProcessBatch(ctx context.Context, raws [][]byte) types.BatchResult {
	res := types.BatchResult{Total: len(raws)}
	for i, raw := range raws {
		if err := p.ProcessEvent(ctx, raw); err != nil {
			res.Failed++
			p.metrics.BatchFailures.Inc()
			res.Details = append(res.Details, types.BatchFailure{
				Index:     i,
				EventName: eventNameOf(raw),
				Error:     err.Error(),
			})
			p.logger.Warn("batch event failed", "index", i, "err", err)
			continue
		}
		res.Processed++
	}
	return res
}

// validate runs the structural schema check and the value-level checks, and
// parses the timestamp. Everything it rejects counts as a malformed event.
func (p *Processor) validate(raw []byte) (*types.TelemetryEvent, time.Time, error) {
	// The schema validator needs the generic decoded form; use the stdlib
	// decoder for the shapes it expects.
	var instance any
	if err := stdjson.Unmarshal(raw, &instance); err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed event: invalid JSON: %w", err)
	}
	if err := p.schema.Validate(instance); err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed event: %w", err)
	}

	var ev types.TelemetryEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed event: %w", err)
	}

	if !types.ValidLevel(ev.Level) {
		return nil, time.Time{}, fmt.Errorf("malformed event: unknown level %q", ev.Level)
	}
	if ev.SchemaVersion != "" && ev.SchemaVersion != types.SupportedSchemaVersion {
		return nil, time.Time{}, fmt.Errorf("malformed event: unsupported schema version %q", ev.SchemaVersion)
	}
	ts, err := types.ParseEventTime(ev.Timestamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("malformed event: %w", err)
	}
	return &ev, ts, nil
}

func eventNameOf(raw []byte) string {
	var probe struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Name
}
