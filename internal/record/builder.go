// Package record converts correlated events into typed sub-records: LLM
// interactions, tool interactions, security alerts, and framework lifecycle
// events. Each sub-record is owned 1:1 by its event; attributes that have no
// first-class column land in an open key/value extension instead of being
// dropped.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-ai/vigil/internal/attr"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// Store is the persistence surface the builder writes sub-records through.
type Store interface {
	InsertLLMInteraction(ctx context.Context, rec *model.LLMInteraction) (int64, error)
	InsertToolInteraction(ctx context.Context, rec *model.ToolInteraction) (int64, error)
	InsertSecurityAlert(ctx context.Context, rec *model.SecurityAlert) (int64, error)
	InsertFrameworkEvent(ctx context.Context, rec *model.FrameworkEvent) (int64, error)
	PrecedingEventIDs(ctx context.Context, spanID string, ts time.Time, window time.Duration, limit int) ([]int64, error)
}

// Security alerts link back to the events that likely caused them: same
// span, strictly preceding, at most a minute earlier.
const (
	triggerWindow   = time.Minute
	maxTriggerLinks = 10
)

// Builder builds and persists the typed sub-record for an event.
type Builder struct {
	store  Store
	logger *slog.Logger
}

// New creates a builder.
func New(store Store, logger *slog.Logger) *Builder {
	return &Builder{store: store, logger: logger}
}

// Build persists the sub-record matching the event's type. Events classified
// "other" have no sub-record and return nil.
func (b *Builder) Build(ctx context.Context, ev *model.Event) error {
	switch ev.EventType {
	case types.EventTypeLLM:
		return b.buildLLM(ctx, ev)
	case types.EventTypeTool:
		return b.buildTool(ctx, ev)
	case types.EventTypeSecurity:
		return b.buildSecurity(ctx, ev)
	case types.EventTypeFramework:
		return b.buildFramework(ctx, ev)
	}
	return nil
}

func (b *Builder) buildFramework(ctx context.Context, ev *model.Event) error {
	p := attr.Payload(ev.Attributes)
	vendor, _ := attr.String(p, attr.FieldVendor, "")

	rec := &model.FrameworkEvent{EventID: ev.ID}
	rec.Framework, _ = attr.String(p, attr.FieldFramework, vendor)
	rec.Action, _ = attr.String(p, attr.FieldFwAction, vendor)
	rec.Version, _ = attr.String(p, attr.FieldFwVersion, vendor)
	rec.Extra = leftover(p, attr.FieldFramework, attr.FieldFwAction, attr.FieldFwVersion)

	if _, err := b.store.InsertFrameworkEvent(ctx, rec); err != nil {
		return fmt.Errorf("build framework record: %w", err)
	}
	return nil
}

// leftover returns the top-level attributes not promoted to first-class
// columns by the consumed fields.
func leftover(p attr.Payload, consumed ...attr.Field) map[string]any {
	if len(p) == 0 {
		return nil
	}
	skip := make(map[string]struct{}, len(consumed)*2)
	for _, f := range consumed {
		skip[f.Canonical] = struct{}{}
		skip[f.Bare] = struct{}{}
	}
	var extra map[string]any
	for k, v := range p {
		if _, ok := skip[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}
