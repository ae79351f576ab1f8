package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Bounds for the normalized summary handed to the synthesis call. Long
// lists are trimmed by dropping whole elements, never by cutting one
// element in half.
const (
	maxSummaryLen  = 1200
	maxListItems   = 8
	maxFieldString = 300
)

// normalized is the shape-independent view of a tool payload.
type normalized struct {
	Summary  string
	Fields   map[string]any
	Degraded bool
}

// normalizePayload converts an arbitrary tool payload into a bounded text
// summary plus structured fields. It never fails: a payload it cannot make
// sense of yields a degraded best-effort rendering instead of an error.
func normalizePayload(payload any) normalized {
	switch v := coerce(payload).(type) {
	case nil:
		return normalized{Summary: "the tool returned no data", Degraded: true}

	case string:
		if strings.TrimSpace(v) == "" {
			return normalized{Summary: "the tool returned no data", Degraded: true}
		}
		return normalized{
			Summary: clip(v, maxSummaryLen),
			Fields:  map[string]any{"value": v},
		}

	case bool, float64, int, int64, json.Number:
		return normalized{
			Summary: scalarString(v),
			Fields:  map[string]any{"value": v},
		}

	case map[string]any:
		if len(v) == 0 {
			return normalized{Summary: "the tool returned no data", Degraded: true}
		}
		return normalized{Summary: clip(recordSummary(v), maxSummaryLen), Fields: v}

	case []any:
		if len(v) == 0 {
			return normalized{Summary: "the tool returned an empty list", Fields: map[string]any{"items": v, "count": 0}}
		}
		return normalized{
			Summary: clip(listSummary(v), maxSummaryLen),
			Fields:  map[string]any{"items": v, "count": len(v)},
		}

	default:
		// Unrecognized shape: keep the raw rendering so the synthesis
		// call still has something to work with.
		return normalized{
			Summary:  clip(fmt.Sprintf("%v", v), maxSummaryLen),
			Fields:   map[string]any{"raw": fmt.Sprintf("%v", v)},
			Degraded: true,
		}
	}
}

// coerce reduces payload wrappers to JSON-native values where possible.
func coerce(payload any) any {
	switch v := payload.(type) {
	case nil, string, bool, float64, int, int64, json.Number, map[string]any, []any:
		return v
	case []byte:
		return coerceJSON(v)
	case json.RawMessage:
		return coerceJSON(v)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return payload
		}
		return coerceJSON(data)
	}
}

func coerceJSON(data []byte) any {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}
	return decoded
}

func scalarString(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func recordSummary(record map[string]any) string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(clip(valueString(record[k]), maxFieldString))
	}
	return b.String()
}

func listSummary(list []any) string {
	shown := list
	if len(shown) > maxListItems {
		shown = shown[:maxListItems]
	}

	var b strings.Builder
	for i, item := range shown {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(clip(valueString(item), maxFieldString))
	}
	if omitted := len(list) - len(shown); omitted > 0 {
		fmt.Fprintf(&b, "\n(and %d more)", omitted)
	}
	return b.String()
}

func valueString(v any) string {
	switch item := v.(type) {
	case string:
		return item
	case map[string]any, []any:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Sprintf("%v", item)
		}
		return string(data)
	default:
		return scalarString(item)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
