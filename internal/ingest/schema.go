package ingest

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// telemetrySchema is the structural contract for one ingestion payload.
// Value-level checks the schema language cannot express cleanly (timestamp
// parseability, supported schema version) happen in validateEvent.
const telemetrySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["timestamp", "trace_id", "name", "level", "agent_id"],
	"properties": {
		"timestamp":      {"type": "string"},
		"trace_id":       {"type": "string"},
		"name":           {"type": "string", "minLength": 1},
		"level":          {"type": "string"},
		"agent_id":       {"type": "string", "minLength": 1},
		"schema_version": {"type": "string"},
		"span_id":        {"type": "string"},
		"parent_span_id": {"type": "string"},
		"attributes":     {"type": "object"}
	}
}`

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(telemetrySchema))
	if err != nil {
		return nil, fmt.Errorf("parse telemetry schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("telemetry.json", doc); err != nil {
		return nil, fmt.Errorf("register telemetry schema: %w", err)
	}
	sch, err := c.Compile("telemetry.json")
	if err != nil {
		return nil, fmt.Errorf("compile telemetry schema: %w", err)
	}
	return sch, nil
}
