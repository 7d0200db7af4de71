package types

// Event severity levels accepted at the ingestion boundary.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Coarse event classifiers derived from the event name prefix.
const (
	EventTypeLLM       = "llm"
	EventTypeTool      = "tool"
	EventTypeSecurity  = "security"
	EventTypeFramework = "framework"
	EventTypeOther     = "other"
)

// SupportedSchemaVersion is the only telemetry schema version the ingestion
// boundary accepts when the optional schema_version field is present.
const SupportedSchemaVersion = "1.0"

var validLevels = map[string]struct{}{
	LevelDebug:    {},
	LevelInfo:     {},
	LevelWarning:  {},
	LevelError:    {},
	LevelCritical: {},
}

// ValidLevel reports whether s is one of the accepted severity levels.
func ValidLevel(s string) bool {
	_, ok := validLevels[s]
	return ok
}

// ClassifyEventName maps an event name to its coarse event type by prefix.
func ClassifyEventName(name string) string {
	switch {
	case hasPrefix(name, "llm."):
		return EventTypeLLM
	case hasPrefix(name, "tool."):
		return EventTypeTool
	case hasPrefix(name, "security."):
		return EventTypeSecurity
	case hasPrefix(name, "framework."):
		return EventTypeFramework
	default:
		return EventTypeOther
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Span boundary name patterns. Instrumentation marks span boundaries with
// name suffixes rather than a dedicated field.
var (
	startSuffixes  = []string{".start", ".begin"}
	finishSuffixes = []string{".finish", ".end", ".stop"}
)

// IsStartEvent reports whether name matches a start pattern.
func IsStartEvent(name string) bool {
	return hasAnySuffix(name, startSuffixes)
}

// IsFinishEvent reports whether name matches a finish pattern.
func IsFinishEvent(name string) bool {
	return hasAnySuffix(name, finishSuffixes)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// TelemetryEvent is the flat ingestion payload emitted by agent
// instrumentation. Timestamp is ISO-8601; attributes are an arbitrarily
// nested key/value map.
type TelemetryEvent struct {
	Timestamp     string         `json:"timestamp"`
	TraceID       string         `json:"trace_id"`
	Name          string         `json:"name"`
	Level         string         `json:"level"`
	AgentID       string         `json:"agent_id"`
	SchemaVersion string         `json:"schema_version,omitempty"`
	SpanID        string         `json:"span_id,omitempty"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// BatchFailure describes a single failed event within a batch submission.
type BatchFailure struct {
	Index     int    `json:"index"`
	EventName string `json:"event_name,omitempty"`
	Error     string `json:"error"`
}

// BatchResult is the per-batch ingestion report. Details is present only
// when Failed > 0.
type BatchResult struct {
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Details   []BatchFailure `json:"details,omitempty"`
}
