// Package jsonfix recovers JSON payloads from free-form model output.
//
// Model responses often wrap JSON in Markdown fences or prose, leave trailing
// commas, or stop before the closing brackets. [Repair] handles these cases
// in order:
//
//  1. Prefer the contents of the first fenced code block, if any.
//  2. Take the first balanced top-level object or array, skipping brackets
//     inside string literals. If the unfenced text has none, scan the raw
//     text; if neither has a complete block, take everything from the first
//     opener onward.
//  3. Drop trailing commas before closing brackets and parse.
//  4. Append the missing closers (all "]" then all "}"), drop trailing
//     commas again and reparse.
//
// [RepairLenient] additionally hands the candidate to jsonrepair when both
// parses fail. jsonrepair turns almost any text containing a bracket into a
// value, so callers that must tell "no JSON" apart from "some JSON" use
// [Repair].
package jsonfix

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fenceRe         = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Repair extracts and parses the first JSON value in text. It returns a
// map[string]any, a []any, or nil when nothing can be recovered.
func Repair(text string) any {
	v, _ := repair(text)
	return v
}

// RepairLenient is Repair with jsonrepair as a last attempt.
func RepairLenient(text string) any {
	v, candidate := repair(text)
	if v != nil || candidate == "" {
		return v
	}
	fixed, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil
	}
	v, _ = parse(fixed)
	return v
}

// RepairObject is Repair restricted to JSON objects.
func RepairObject(text string) (map[string]any, bool) {
	m, ok := Repair(text).(map[string]any)
	return m, ok
}

// RepairLenientObject is RepairLenient restricted to JSON objects.
func RepairLenientObject(text string) (map[string]any, bool) {
	m, ok := RepairLenient(text).(map[string]any)
	return m, ok
}

// repair runs the two parse attempts. On failure it returns the candidate
// it tried, or "" when text has no opener at all.
func repair(text string) (any, string) {
	if strings.TrimSpace(text) == "" {
		return nil, ""
	}

	candidate, ok := firstBlock(stripFences(text))
	if !ok {
		candidate, ok = firstBlock(text)
	}
	if !ok {
		candidate, ok = fromFirstOpener(text)
	}
	if !ok {
		return nil, ""
	}

	candidate = trailingCommaRe.ReplaceAllString(candidate, "$1")
	if v, ok := parse(candidate); ok {
		return v, candidate
	}

	repaired := candidate +
		strings.Repeat("]", max(0, strings.Count(candidate, "[")-strings.Count(candidate, "]"))) +
		strings.Repeat("}", max(0, strings.Count(candidate, "{")-strings.Count(candidate, "}")))
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	if v, ok := parse(repaired); ok {
		return v, candidate
	}
	return nil, candidate
}

// stripFences returns the inner content of the first fenced block, or the
// trimmed text when there is none.
func stripFences(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// firstBlock returns the first complete object or array in text. Depth is
// tracked on the opener's bracket type only; brackets inside strings are
// ignored.
func firstBlock(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	opener := text[start]
	closer := byte('}')
	if opener == '[' {
		closer = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// fromFirstOpener returns the truncated tail of text starting at its first
// opener, for output that was cut off before closing.
func fromFirstOpener(text string) (string, bool) {
	text = stripFences(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	return strings.TrimSpace(text[start:]), true
}

func parse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}
