// Package model defines the correlated entity rows shared by the storage
// layer, the correlation engine, and the analytics engine. Entities reference
// each other by id, never by pointer, so the span tree is a flat arena and
// parent/root walks are bounded lookups.
package model

import "time"

// SpanState is the lifecycle state of a span.
type SpanState string

const (
	// SpanOpen: created, start time pending or set, no events beyond the start.
	SpanOpen SpanState = "open"
	// SpanActive: receiving events.
	SpanActive SpanState = "active"
	// SpanClosed: a finish-pattern event has been observed.
	SpanClosed SpanState = "closed"
)

// Agent is an externally-identified event producer. FirstSeen/LastSeen widen
// monotonically on every event; agents are never deleted.
type Agent struct {
	AgentID     string
	Name        string
	FirstSeen   time.Time
	LastSeen    time.Time
	Version     string
	Environment map[string]string
}

// Session groups traces/events belonging to one interaction period. Created
// lazily on the first event carrying an unknown session id.
type Session struct {
	SessionID string
	AgentID   string
	StartTime time.Time
	EndTime   *time.Time
}

// Trace is the set of spans of one end-to-end operation. Start/end are the
// monotonic min/max over contained span timestamps.
type Trace struct {
	TraceID   string
	AgentID   string
	StartTime *time.Time
	EndTime   *time.Time
}

// Span is a timed unit of work within a trace. RootSpanID is resolved
// transitively; a span with no parent is its own root.
type Span struct {
	SpanID       string
	TraceID      string
	ParentSpanID *string
	RootSpanID   string
	Name         string
	State        SpanState
	StartTime    *time.Time
	EndTime      *time.Time
}

// Event is the atomic append-only fact. ID is system-assigned and is the
// stable join key for specialized sub-records. Correlation fields are nil
// when the event could not be correlated.
type Event struct {
	ID            int64
	AgentID       string
	SessionID     *string
	TraceID       *string
	SpanID        *string
	ParentSpanID  *string
	Timestamp     time.Time
	Name          string
	Level         string
	EventType     string
	SchemaVersion string
	Attributes    map[string]any
	CounterpartID *int64
}
