package record

import (
	"context"
	"fmt"

	"github.com/vigil-ai/vigil/internal/attr"
	"github.com/vigil-ai/vigil/internal/model"
)

var securityConsumed = []attr.Field{
	attr.FieldVendor,
	attr.FieldAlertLevel, attr.FieldKeywords, attr.FieldContentSample,
	attr.FieldSessionID,
}

// buildSecurity persists a security alert and links the events that likely
// triggered it: same span, strictly preceding the alert, within the trigger
// window. An alert on an uncorrelated event gets no trigger links.
func (b *Builder) buildSecurity(ctx context.Context, ev *model.Event) error {
	p := attr.Payload(ev.Attributes)
	vendor, _ := attr.String(p, attr.FieldVendor, "")

	rec := &model.SecurityAlert{EventID: ev.ID}
	rec.AlertLevel, _ = attr.String(p, attr.FieldAlertLevel, vendor)
	rec.Keywords, _ = attr.Strings(p, attr.FieldKeywords, vendor)
	rec.ContentSample, _ = attr.String(p, attr.FieldContentSample, vendor)
	rec.Extra = leftover(p, securityConsumed...)

	if ev.SpanID != nil {
		ids, err := b.store.PrecedingEventIDs(ctx, *ev.SpanID, ev.Timestamp, triggerWindow, maxTriggerLinks)
		if err != nil {
			return fmt.Errorf("resolve alert triggers: %w", err)
		}
		rec.TriggeringEventIDs = ids
	}

	if _, err := b.store.InsertSecurityAlert(ctx, rec); err != nil {
		return fmt.Errorf("build security record: %w", err)
	}
	return nil
}
