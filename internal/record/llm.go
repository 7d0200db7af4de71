package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/vigil-ai/vigil/internal/attr"
	"github.com/vigil-ai/vigil/internal/model"
	"github.com/vigil-ai/vigil/pkg/types"
)

// llmConsumed lists the fields promoted to llm_interactions columns; anything
// else stays in the extra map.
var llmConsumed = []attr.Field{
	attr.FieldVendor, attr.FieldModel,
	attr.FieldTemperature, attr.FieldMaxTokens, attr.FieldTopP,
	attr.FieldFreqPenalty, attr.FieldPresPenalty,
	attr.FieldReqTime, attr.FieldReqData,
	attr.FieldRespTime, attr.FieldDurationMS,
	attr.FieldInputTokens, attr.FieldOutputToken, attr.FieldTotalTokens,
	attr.FieldResponseID, attr.FieldStopReason, attr.FieldRespContent,
	attr.FieldStatus, attr.FieldSessionID,
}

// buildLLM persists the typed record for an llm.* event. Request-side fields
// are populated only from start events and response-side fields only from
// finish events; a finish never overwrites the parameters its start recorded.
func (b *Builder) buildLLM(ctx context.Context, ev *model.Event) error {
	p := attr.Payload(ev.Attributes)
	vendor, _ := attr.String(p, attr.FieldVendor, "")

	rec := &model.LLMInteraction{EventID: ev.ID, Vendor: vendor}
	rec.Model, _ = attr.String(p, attr.FieldModel, vendor)
	rec.Extra = leftover(p, llmConsumed...)

	switch {
	case types.IsStartEvent(ev.Name):
		rec.InteractionType = model.InteractionStart
		b.fillRequestSide(rec, p, ev, vendor)
	case types.IsFinishEvent(ev.Name):
		rec.InteractionType = model.InteractionFinish
		b.fillResponseSide(rec, p, ev, vendor)
	default:
		// Mid-span llm events (streaming chunks and the like) carry no
		// request or response columns of their own.
		rec.InteractionType = model.InteractionStart
	}

	if _, err := b.store.InsertLLMInteraction(ctx, rec); err != nil {
		return fmt.Errorf("build llm record: %w", err)
	}
	return nil
}

func (b *Builder) fillRequestSide(rec *model.LLMInteraction, p attr.Payload, ev *model.Event, vendor string) {
	if v, ok := attr.Float(p, attr.FieldTemperature, vendor); ok {
		rec.Temperature = &v
	}
	if v, ok := attr.Int(p, attr.FieldMaxTokens, vendor); ok {
		rec.MaxTokens = &v
	}
	if v, ok := attr.Float(p, attr.FieldTopP, vendor); ok {
		rec.TopP = &v
	}
	if v, ok := attr.Float(p, attr.FieldFreqPenalty, vendor); ok {
		rec.FrequencyPenalty = &v
	}
	if v, ok := attr.Float(p, attr.FieldPresPenalty, vendor); ok {
		rec.PresencePenalty = &v
	}
	rec.RequestData, _ = attr.JSONText(p, attr.FieldReqData, vendor)

	// Request timestamp: explicit attribute, falling back to the event's own.
	ts := ev.Timestamp
	if s, ok := attr.String(p, attr.FieldReqTime, vendor); ok {
		if parsed, err := types.ParseEventTime(s); err == nil {
			ts = parsed
		} else {
			b.logger.Debug("unparseable request timestamp attribute", "value", s, "event_id", ev.ID)
		}
	}
	rec.RequestTimestamp = &ts
}

func (b *Builder) fillResponseSide(rec *model.LLMInteraction, p attr.Payload, ev *model.Event, vendor string) {
	if v, ok := attr.Int(p, attr.FieldInputTokens, vendor); ok {
		rec.InputTokens = &v
	}
	if v, ok := attr.Int(p, attr.FieldOutputToken, vendor); ok {
		rec.OutputTokens = &v
	}
	if v, ok := attr.Int(p, attr.FieldTotalTokens, vendor); ok {
		rec.TotalTokens = &v
	} else if rec.InputTokens != nil && rec.OutputTokens != nil {
		total := *rec.InputTokens + *rec.OutputTokens
		rec.TotalTokens = &total
	}
	if v, ok := attr.Int(p, attr.FieldDurationMS, vendor); ok {
		rec.DurationMS = &v
	}
	rec.ResponseID, _ = attr.String(p, attr.FieldResponseID, vendor)
	rec.StopReason, _ = attr.String(p, attr.FieldStopReason, vendor)
	rec.ResponseContent, _ = attr.JSONText(p, attr.FieldRespContent, vendor)
	rec.Status = terminalStatus(p, ev, vendor, attr.FieldStatus)

	ts := ev.Timestamp
	if s, ok := attr.String(p, attr.FieldRespTime, vendor); ok {
		if parsed, err := types.ParseEventTime(s); err == nil {
			ts = parsed
		} else {
			b.logger.Debug("unparseable response timestamp attribute", "value", s, "event_id", ev.ID)
		}
	}
	rec.ResponseTimestamp = &ts
}

// terminalStatus derives a finish record's outcome: an explicit status
// attribute wins; otherwise ERROR/CRITICAL severity means failure and
// anything else means success.
func terminalStatus(p attr.Payload, ev *model.Event, vendor string, field attr.Field) string {
	if s, ok := attr.String(p, field, vendor); ok {
		switch strings.ToLower(s) {
		case model.StatusSuccess:
			return model.StatusSuccess
		case model.StatusError:
			return model.StatusError
		}
	}
	if ev.Level == types.LevelError || ev.Level == types.LevelCritical {
		return model.StatusError
	}
	return model.StatusSuccess
}
