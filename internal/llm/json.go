package llm

import (
	"encoding/json"
	"strings"
)

// StripFence removes an optional ``` or ```json fence around s.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// The remainder of the opening line is a language tag unless it
		// already holds JSON.
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[\"") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeJSON unmarshals a completion into v after stripping a code fence.
func DecodeJSON(completion string, v any) error {
	return json.Unmarshal([]byte(StripFence(completion)), v)
}
