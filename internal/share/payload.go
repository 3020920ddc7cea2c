// Package share turns a validated verdict into a versioned snapshot that can
// be reconstructed by the share page, and produces the link that carries it.
package share

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/whisper/verdict-app/internal/verdict"
)

// Version is the payload schema version understood by the share page.
const Version = "1"

// Payload is a snapshot of one verdict. Seed only busts caches and carries
// no meaning.
type Payload struct {
	V            string   `json:"v"`
	Text         string   `json:"text"`
	Density      float64  `json:"density"`
	Verdict      string   `json:"verdict"`
	VerdictText  string   `json:"verdictText"`
	Sentence     string   `json:"sentence"`
	SentenceText string   `json:"sentenceText"`
	Evidence     []string `json:"evidence"`
	EvidenceText []string `json:"evidenceText"`
	StatusAdvice string   `json:"statusAdvice"`
	Seed         string   `json:"seed"`
}

// Build snapshots v together with the moderated text and clamped density.
func Build(text string, density float64, v verdict.Verdict) Payload {
	return Payload{
		V:            Version,
		Text:         text,
		Density:      verdict.ClampDensity(density),
		Verdict:      v.Verdict,
		VerdictText:  v.VerdictText,
		Sentence:     v.Sentence,
		SentenceText: v.SentenceText,
		Evidence:     append([]string(nil), v.Evidence...),
		EvidenceText: append([]string(nil), v.EvidenceText...),
		StatusAdvice: v.StatusAdvice,
		Seed:         uuid.NewString(),
	}
}

// Encode serializes p as unpadded base64url JSON, safe for URL fragments.
func Encode(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("share: marshal payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode reverses Encode and rejects unknown versions.
func Decode(s string) (Payload, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("share: decode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("share: unmarshal payload: %w", err)
	}
	if p.V != Version {
		return Payload{}, fmt.Errorf("share: unsupported payload version %q", p.V)
	}
	return p, nil
}
