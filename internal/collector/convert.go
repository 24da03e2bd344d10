package collector

import (
	"encoding/json"
	"strconv"
	"strings"
)

// safeFloat converts gateway payload values to float64. Unlike the store's
// numeric check, numeric strings are accepted here because gateways are
// inconsistent about quoting totals.
func safeFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeRunTime converts a reported last-run time to Unix seconds.
// Values greater than 1e10 are treated as milliseconds. Unparsable values
// fall back to the current cycle timestamp.
func normalizeRunTime(v any, fallback float64) float64 {
	f, ok := safeFloat(v)
	if !ok {
		return fallback
	}
	if f > 1e10 {
		return f / 1000
	}
	return f
}

// truthy reports whether a payload value is present and non-empty in the
// loose sense gateways use: nil, zero numbers, empty strings, and false
// all count as absent.
func truthy(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case string:
		return n != ""
	case float64:
		return n != 0
	case int:
		return n != 0
	case int64:
		return n != 0
	case json.Number:
		return n.String() != "" && n.String() != "0"
	default:
		return true
	}
}

// stringOr returns v as a non-empty string, or fallback.
func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
