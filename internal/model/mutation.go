package model

import "time"

// PairKind tells the storage layer whether the event being applied is a
// start- or finish-pattern event that may have a counterpart to link.
type PairKind int

const (
	PairNone PairKind = iota
	PairStart
	PairFinish
)

// PairRequest asks the store to link the inserted event with its unpaired
// counterpart in the same (trace, span), searching within Window of the
// event's timestamp. Out-of-order arrival is handled by issuing the request
// from whichever side arrives second.
type PairRequest struct {
	Kind    PairKind
	TraceID string
	SpanID  string
	Window  time.Duration
}

// SpanUpsert carries one span write. IfAbsent marks a minimal placeholder
// creation (parent spans declared but not yet seen): it must not overwrite
// an existing row.
type SpanUpsert struct {
	Span     Span
	IfAbsent bool
}

// EventMutation is the full set of entity writes produced by correlating one
// event. The store applies it atomically: a concurrent reader never observes
// a span row without its owning trace row.
type EventMutation struct {
	Event   Event
	Agent   Agent
	Session *Session
	Trace   *Trace
	Spans   []SpanUpsert
	Pair    PairRequest
}
