package types

import (
	"fmt"
	"time"
)

// Timestamp layouts accepted at the boundary. Instrumentation libraries emit
// ISO-8601 with or without sub-second precision, and some omit the zone
// entirely; zoneless timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseEventTime parses an ISO-8601 event timestamp.
func ParseEventTime(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
