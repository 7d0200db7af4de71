package record

import (
	"context"
	"fmt"

	"github.com/vigil-ai/vigil/internal/attr"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

var toolConsumed = []attr.Field{
	attr.FieldVendor,
	attr.FieldToolName, attr.FieldToolID,
	attr.FieldToolParams, attr.FieldToolResult,
	attr.FieldToolStatus, attr.FieldExecTimeMS,
	attr.FieldSessionID,
}

func (b *Builder) buildTool(ctx context.Context, ev *model.Event) error {
	p := attr.Payload(ev.Attributes)
	vendor, _ := attr.String(p, attr.FieldVendor, "")

	rec := &model.ToolInteraction{EventID: ev.ID}
	rec.ToolName, _ = attr.String(p, attr.FieldToolName, vendor)
	rec.ToolID, _ = attr.String(p, attr.FieldToolID, vendor)
	rec.Extra = leftover(p, toolConsumed...)

	switch {
	case types.IsStartEvent(ev.Name):
		rec.InteractionType = model.InteractionStart
		rec.Params, _ = attr.JSONText(p, attr.FieldToolParams, vendor)
	case types.IsFinishEvent(ev.Name):
		rec.InteractionType = model.InteractionFinish
		rec.Result, _ = attr.JSONText(p, attr.FieldToolResult, vendor)
		rec.Status = terminalStatus(p, ev, vendor, attr.FieldToolStatus)
		if v, ok := attr.Int(p, attr.FieldExecTimeMS, vendor); ok {
			rec.DurationMS = &v
		}
	default:
		rec.InteractionType = model.InteractionStart
		rec.Params, _ = attr.JSONText(p, attr.FieldToolParams, vendor)
	}

	if _, err := b.store.InsertToolInteraction(ctx, rec); err != nil {
		return fmt.Errorf("build tool record: %w", err)
	}
	return nil
}
