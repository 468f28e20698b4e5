// Package stats splits model output into a structured statistics object and
// the remaining markdown body.
package stats

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonFence = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	bareFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// Extract locates the statistics object in text and returns it together with
// the markdown body.
//
// The search order is a ```json fence (case-insensitive), then a bare ```
// fence whose body decodes as an object, then the outermost {...} span. A
// matched ```json fence is stripped from the markdown even when its content
// does not parse; a bare {...} span is left in place. Failure yields an empty
// map, never nil.
func Extract(text string) (map[string]any, string) {
	if m := jsonFence.FindStringSubmatchIndex(text); m != nil {
		body := text[m[2]:m[3]]
		markdown := strings.TrimSpace(text[:m[0]] + text[m[1]:])
		if obj, ok := decodeObject(body); ok {
			return obj, markdown
		}
		return map[string]any{}, markdown
	}

	for _, m := range bareFence.FindAllStringSubmatchIndex(text, -1) {
		if obj, ok := decodeObject(text[m[2]:m[3]]); ok {
			return obj, strings.TrimSpace(text[:m[0]] + text[m[1]:])
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, strings.TrimSpace(text)
		}
	}
	return map[string]any{}, strings.TrimSpace(text)
}

func decodeObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
