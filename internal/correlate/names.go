package correlate

import (
	"github.com/vigil-ai/vigil/pkg/types"
)

// spanDisplayName derives a human-readable span name from the event name
// family. Unrecognized prefixes fall back to the raw event name.
func spanDisplayName(eventName string) string {
	switch types.ClassifyEventName(eventName) {
	case types.EventTypeLLM:
		return "llm_interaction"
	case types.EventTypeTool:
		return "tool_interaction"
	case types.EventTypeSecurity:
		return "security_alert"
	case types.EventTypeFramework:
		return "framework_event"
	default:
		return eventName
	}
}

// agentDisplayName is assigned on first sight of an unknown agent id.
func agentDisplayName(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Agent-" + short
}
