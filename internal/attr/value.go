package attr

import (
	"encoding/json"
	"strconv"
)

// Typed accessors over resolved values. JSON decoding yields float64 for all
// numbers and json.Number when decoders are configured that way, so each
// accessor normalizes across the shapes a payload can legally carry. A false
// return means the value is absent or not coercible — it is never an error.

// String resolves field as a string.
func String(p Payload, field Field, vendor string) (string, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float resolves field as a float64.
func Float(p Payload, field Field, vendor string) (float64, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

// Int resolves field as an int64. Floats with a fractional part do not
// coerce.
func Int(p Payload, field Field, vendor string) (int64, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return 0, false
	}
	return asInt(v)
}

// Bool resolves field as a bool.
func Bool(p Payload, field Field, vendor string) (bool, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Strings resolves field as a list of strings, accepting both []string and
// the []any shape JSON decoding produces.
func Strings(p Payload, field Field, vendor string) ([]string, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// JSONText resolves field and re-encodes structured values as compact JSON.
// Plain strings pass through unchanged.
func JSONText(p Payload, field Field, vendor string) (string, bool) {
	v, ok := Resolve(p, field, vendor)
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
