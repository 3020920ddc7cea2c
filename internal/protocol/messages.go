// Package protocol defines the NDJSON events streamed to the client while a
// verdict is produced. Every line is one JSON object with a "field"
// discriminator naming what the event updates.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Field constants
// ---------------------------------------------------------------------------

// Progress and control fields.
const (
	FieldStatus = "status"
	FieldShare  = "share"
	FieldError  = "error"
	FieldDone   = "done"
)

// Verdict fields. Updates to these always replace the previous content.
const (
	FieldVerdict      = "verdict"
	FieldVerdictText  = "verdict_text"
	FieldSentence     = "sentence"
	FieldSentenceText = "sentence_text"
	FieldEvidence     = "evidence"
	FieldEvidenceText = "evidence_text"
)

// ContentType is the response media type for an event stream.
const ContentType = "application/x-ndjson"

var knownFields = map[string]bool{
	FieldStatus:       true,
	FieldShare:        true,
	FieldError:        true,
	FieldDone:         true,
	FieldVerdict:      true,
	FieldVerdictText:  true,
	FieldSentence:     true,
	FieldSentenceText: true,
	FieldEvidence:     true,
	FieldEvidenceText: true,
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

// Event is one line of the stream. Only the members relevant to Field are
// set; Index is present only for evidence updates.
type Event struct {
	Field   string `json:"field"`
	Content string `json:"content,omitempty"`
	Index   *int   `json:"index,omitempty"`
	Replace bool   `json:"replace,omitempty"`
	URL     string `json:"url,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether no event may follow e.
func (e Event) Terminal() bool {
	return e.Field == FieldDone || e.Field == FieldError
}

// Status is a human-readable progress update.
func Status(content string) Event {
	return Event{Field: FieldStatus, Content: content}
}

// Update replaces a scalar verdict field.
func Update(field, content string) Event {
	return Event{Field: field, Content: content, Replace: true}
}

// UpdateAt replaces one entry of a list field.
func UpdateAt(field string, index int, content string) Event {
	return Event{Field: field, Index: &index, Content: content, Replace: true}
}

// Share carries the share link.
func Share(url, linkType string) Event {
	return Event{Field: FieldShare, URL: url, Type: linkType}
}

// Error ends the stream with a user-facing message.
func Error(message string) Event {
	return Event{Field: FieldError, Message: message}
}

// Done ends the stream successfully.
func Done() Event {
	return Event{Field: FieldDone}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Encode returns e as a single newline-terminated JSON line.
func Encode(e Event) ([]byte, error) {
	if !knownFields[e.Field] {
		return nil, fmt.Errorf("protocol: unknown event field %q", e.Field)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal event: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseEvent decodes one stream line.
func ParseEvent(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to parse event: %w", err)
	}
	if e.Field == "" {
		return Event{}, fmt.Errorf("protocol: missing or empty \"field\"")
	}
	if !knownFields[e.Field] {
		return Event{}, fmt.Errorf("protocol: unknown event field %q", e.Field)
	}
	return e, nil
}

// ParseStream decodes a whole NDJSON body, skipping blank lines.
func ParseStream(body []byte) ([]Event, error) {
	var events []Event
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		e, err := ParseEvent(line)
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
	return events, nil
}
