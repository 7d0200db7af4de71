package model

import "time"

// LLM interaction sides: start events carry request-side fields, finish
// events carry response-side fields. The two sets are disjoint; a finish
// never overwrites request parameters populated by its start.
const (
	InteractionStart  = "start"
	InteractionFinish = "finish"
)

// Terminal statuses of a finish record. An empty status means no terminal
// outcome was reported; such records are excluded from success/error rates.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LLMInteraction is the typed sub-record for one llm.* event.
type LLMInteraction struct {
	ID                int64
	EventID           int64
	InteractionType   string
	Vendor            string
	Model             string
	RequestTimestamp  *time.Time
	ResponseTimestamp *time.Time
	DurationMS        *int64
	InputTokens       *int64
	OutputTokens      *int64
	TotalTokens       *int64
	Temperature       *float64
	MaxTokens         *int64
	TopP              *float64
	FrequencyPenalty  *float64
	PresencePenalty   *float64
	ResponseID        string
	StopReason        string
	Status            string
	RequestData       string
	ResponseContent   string
	Extra             map[string]any
}

// ToolInteraction is the typed sub-record for one tool.* event.
type ToolInteraction struct {
	ID              int64
	EventID         int64
	InteractionType string
	ToolName        string
	ToolID          string
	Params          string
	Result          string
	Status          string
	DurationMS      *int64
	Extra           map[string]any
}

// SecurityAlert is the typed sub-record for one security.* event.
// TriggeringEventIDs link the alert to upstream events in the same span.
type SecurityAlert struct {
	ID                 int64
	EventID            int64
	AlertLevel         string
	Keywords           []string
	ContentSample      string
	Extra              map[string]any
	TriggeringEventIDs []int64
}

// FrameworkEvent is the typed sub-record for one framework.* event.
type FrameworkEvent struct {
	ID        int64
	EventID   int64
	Framework string
	Action    string
	Version   string
	Extra     map[string]any
}

// UsageRow is one llm interaction row as read back for aggregation, joined
// with its owning event's correlation fields.
type UsageRow struct {
	EventID         int64
	CounterpartID   *int64
	Timestamp       time.Time
	AgentID         string
	Model           string
	InteractionType string
	Status          string
	DurationMS      *int64
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
}

// UsageFilter narrows a usage scan. The time window is half-open [From, To).
type UsageFilter struct {
	AgentID string
	TraceID string
	Model   string
	From    *time.Time
	To      *time.Time
}
