package llm

import (
	"encoding/json"
	"strings"
)

// StripCodeFence removes a surrounding markdown fence (```json, ``` or any
// other language tag) from a model response.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}

// DecodeJSON unmarshals a model response after stripping code fences.
func DecodeJSON(s string, v interface{}) error {
	return json.Unmarshal([]byte(StripCodeFence(s)), v)
}
