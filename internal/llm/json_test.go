package llm

import "testing"

func TestStripFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"padded", "  {\"a\":1}\n", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFence(tt.input); got != tt.want {
				t.Errorf("StripFence(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Decision string `json:"decision"`
	}
	if err := DecodeJSON("```json\n{\"decision\":\"allow\"}\n```", &v); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if v.Decision != "allow" {
		t.Errorf("Decision = %q, want allow", v.Decision)
	}
	if err := DecodeJSON("not json", &v); err == nil {
		t.Error("expected an error for prose")
	}
}
