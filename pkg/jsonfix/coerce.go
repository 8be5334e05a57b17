package jsonfix

import (
	"fmt"
	"strconv"
	"strings"
)

// Truthy reports whether a decoded JSON value is non-empty: false, 0, "",
// null, [] and {} are falsy.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

// String formats a decoded JSON value as text.
func String(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Number converts a JSON number or boolean to float64.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// NumberOrString is Number that also parses numeric strings.
func NumberOrString(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return Number(v)
}

// Int converts a JSON number, boolean or integer string to int. Fractional
// numbers are truncated toward zero.
func Int(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	f, ok := Number(v)
	return int(f), ok
}

// Clamp limits f to [lo, hi].
func Clamp[T int | float64](f, lo, hi T) T {
	return max(lo, min(hi, f))
}
