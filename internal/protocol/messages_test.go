package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: evidence updates carry index 0 explicitly
// ---------------------------------------------------------------------------

func TestEncode_EvidenceIndexZero(t *testing.T) {
	data, err := Encode(UpdateAt(FieldEvidence, 0, "🔥"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", data)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["field"] != FieldEvidence {
		t.Errorf("expected field %q, got %v", FieldEvidence, result["field"])
	}
	idx, ok := result["index"].(float64)
	if !ok {
		t.Fatalf("expected index to be a number, got %T", result["index"])
	}
	if idx != 0 {
		t.Errorf("expected index 0, got %v", idx)
	}
	if result["replace"] != true {
		t.Errorf("expected replace true, got %v", result["replace"])
	}
}

// ---------------------------------------------------------------------------
// Test: status and done events omit unrelated members
// ---------------------------------------------------------------------------

func TestEncode_MinimalShapes(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"status", Status("Reviewing your case..."), `{"field":"status","content":"Reviewing your case..."}` + "\n"},
		{"done", Done(), `{"field":"done"}` + "\n"},
		{"error", Error("R"), `{"field":"error","message":"R"}` + "\n"},
		{"share", Share("https://x/s#abc", "long"), `{"field":"share","url":"https://x/s#abc","type":"long"}` + "\n"},
		{"verdict", Update(FieldVerdict, "⚖️"), `{"field":"verdict","content":"⚖️","replace":true}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, data)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: unknown fields are rejected
// ---------------------------------------------------------------------------

func TestEncode_UnknownField(t *testing.T) {
	if _, err := Encode(Event{Field: "bogus"}); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestParseEvent_Errors(t *testing.T) {
	for _, line := range []string{`not json`, `{"content":"x"}`, `{"field":"bogus"}`} {
		if _, err := ParseEvent([]byte(line)); err == nil {
			t.Errorf("ParseEvent(%s): expected error, got nil", line)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: a stream round-trips through ParseStream
// ---------------------------------------------------------------------------

func TestParseStream(t *testing.T) {
	var body []byte
	for _, ev := range []Event{Status("a"), UpdateAt(FieldEvidenceText, 2, "b"), Done()} {
		data, err := Encode(ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		body = append(body, data...)
	}
	body = append(body, '\n')

	events, err := ParseStream(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Index == nil || *events[1].Index != 2 {
		t.Errorf("expected index 2, got %v", events[1].Index)
	}
	if !events[2].Terminal() {
		t.Error("expected done to be terminal")
	}
	if events[0].Terminal() {
		t.Error("expected status not to be terminal")
	}
}
