// Package attr resolves logical fields out of heterogeneous telemetry
// attribute payloads. Instrumentation libraries disagree on naming: the same
// knob arrives as a canonical dotted key, a bare key, a vendor-prefixed key,
// a vendor-specific alias, or a camelCase variant, and sometimes only inside
// a nested request payload. Resolution is a fixed-order cascade; the first
// match wins and values are never merged.
package attr

import (
	"strings"
)

// Payload is an arbitrarily nested attribute map as decoded from JSON.
type Payload map[string]any

// Field names one logical attribute. Canonical is the dotted convention key
// (e.g. "llm.request.temperature"), Bare the short form ("temperature").
type Field struct {
	Canonical string
	Bare      string
}

// Logical fields used by the correlation engine and record builders.
var (
	FieldSessionID   = Field{Canonical: "session.id", Bare: "session_id"}
	FieldUserID      = Field{Canonical: "user.id", Bare: "user_id"}
	FieldVendor      = Field{Canonical: "llm.vendor", Bare: "vendor"}
	FieldModel       = Field{Canonical: "llm.model", Bare: "model"}
	FieldTemperature = Field{Canonical: "llm.request.temperature", Bare: "temperature"}
	FieldMaxTokens   = Field{Canonical: "llm.request.max_tokens", Bare: "max_tokens"}
	FieldTopP        = Field{Canonical: "llm.request.top_p", Bare: "top_p"}
	FieldFreqPenalty = Field{Canonical: "llm.request.frequency_penalty", Bare: "frequency_penalty"}
	FieldPresPenalty = Field{Canonical: "llm.request.presence_penalty", Bare: "presence_penalty"}
	FieldReqTime     = Field{Canonical: "llm.request.timestamp", Bare: "request_timestamp"}
	FieldReqData     = Field{Canonical: "llm.request.data", Bare: "request_data"}
	FieldRespTime    = Field{Canonical: "llm.response.timestamp", Bare: "response_timestamp"}
	FieldDurationMS  = Field{Canonical: "llm.response.duration_ms", Bare: "duration_ms"}
	FieldInputTokens = Field{Canonical: "llm.usage.input_tokens", Bare: "input_tokens"}
	FieldOutputToken = Field{Canonical: "llm.usage.output_tokens", Bare: "output_tokens"}
	FieldTotalTokens = Field{Canonical: "llm.usage.total_tokens", Bare: "total_tokens"}
	FieldResponseID  = Field{Canonical: "llm.response.id", Bare: "response_id"}
	FieldStopReason  = Field{Canonical: "llm.response.stop_reason", Bare: "stop_reason"}
	FieldRespContent = Field{Canonical: "llm.response.content", Bare: "response_content"}
	FieldStatus      = Field{Canonical: "llm.response.status", Bare: "status"}

	FieldToolName   = Field{Canonical: "tool.name", Bare: "tool_name"}
	FieldToolID     = Field{Canonical: "tool.id", Bare: "tool_id"}
	FieldToolParams = Field{Canonical: "tool.params", Bare: "params"}
	FieldToolResult = Field{Canonical: "tool.result", Bare: "result"}
	FieldToolStatus = Field{Canonical: "tool.status", Bare: "status"}
	FieldExecTimeMS = Field{Canonical: "tool.execution_time_ms", Bare: "execution_time_ms"}

	FieldAlertLevel    = Field{Canonical: "security.alert_level", Bare: "alert_level"}
	FieldKeywords      = Field{Canonical: "security.keywords", Bare: "keywords"}
	FieldContentSample = Field{Canonical: "security.content_sample", Bare: "content_sample"}

	FieldFramework = Field{Canonical: "framework.name", Bare: "framework"}
	FieldFwAction  = Field{Canonical: "framework.action", Bare: "action"}
	FieldFwVersion = Field{Canonical: "framework.version", Bare: "version"}
	FieldAgentVer  = Field{Canonical: "agent.version", Bare: "agent_version"}
	FieldAgentEnv  = Field{Canonical: "agent.environment", Bare: "environment"}
)

// vendorAliases maps vendor → bare field name → payload keys specific to
// that vendor's SDK dialect.
var vendorAliases = map[string]map[string][]string{
	"anthropic": {
		"max_tokens":  {"max_tokens_to_sample"},
		"stop_reason": {"stop_sequence_reason"},
	},
	"openai": {
		"max_tokens":  {"max_completion_tokens"},
		"stop_reason": {"finish_reason"},
	},
}

// requestDataKeys are the sub-object keys checked in the final cascade step.
var requestDataKeys = []string{"request_data", "llm.request.data"}

// Resolve looks field up in p following the cascade. The boolean is false
// when every step misses; absence is not an error and callers must treat it
// as "unknown", never as a default. Malformed payloads (nil, non-map nests)
// simply resolve nothing.
func Resolve(p Payload, field Field, vendor string) (any, bool) {
	if v, ok := resolveFlat(p, field, vendor); ok {
		return v, true
	}
	// Step 6: repeat the cascade scoped to a request-payload sub-object.
	for _, key := range requestDataKeys {
		sub, ok := lookup(p, key)
		if !ok {
			continue
		}
		subMap, ok := sub.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := resolveFlat(Payload(subMap), field, vendor); ok {
			return v, true
		}
	}
	return nil, false
}

// resolveFlat runs cascade steps 1–5 against a single scope.
func resolveFlat(p Payload, field Field, vendor string) (any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	// 1. Canonical dotted name.
	if field.Canonical != "" {
		if v, ok := lookup(p, field.Canonical); ok {
			return v, true
		}
	}
	// 2. Bare name.
	if v, ok := lookup(p, field.Bare); ok {
		return v, true
	}
	// 3. Vendor-prefixed name.
	if vendor != "" {
		if v, ok := lookup(p, vendor+"."+field.Bare); ok {
			return v, true
		}
	}
	// 4. Vendor-specific aliases.
	if aliases, ok := vendorAliases[vendor]; ok {
		for _, alias := range aliases[field.Bare] {
			if v, ok := lookup(p, alias); ok {
				return v, true
			}
		}
	}
	// 5. camelCase variant of the canonical name.
	if cc := camelCase(field.Bare); cc != field.Bare {
		if v, ok := lookup(p, cc); ok {
			return v, true
		}
	}
	return nil, false
}

// lookup finds key in p: first as a literal (possibly dotted) map key, then
// as a dotted path into nested maps. Instrumentation emits both shapes.
func lookup(p Payload, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	if v, ok := p[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var cur any = map[string]any(p)
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// camelCase converts a snake_case name to camelCase ("max_tokens" →
// "maxTokens"). Names without underscores are returned unchanged.
func camelCase(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) < 2 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
