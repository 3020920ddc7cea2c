package verdict

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTextRunes   = 160
	MaxAdviceRunes = 80
	MaxEvidence    = 6

	DefaultAdvice = "Stay curious."
)

// ErrInvalidOutput is wrapped by every validation failure. The wrapped
// message names the rule that was violated.
var ErrInvalidOutput = errors.New("invalid verdict")

// Verdict is a model completion that passed validation. Emoji fields hold
// only emoji glyphs and whitespace, and len(EvidenceText) == len(Evidence).
type Verdict struct {
	Verdict      string   `json:"verdict"`
	VerdictText  string   `json:"verdictText"`
	Sentence     string   `json:"sentence"`
	SentenceText string   `json:"sentenceText"`
	Evidence     []string `json:"evidence"`
	EvidenceText []string `json:"evidenceText"`
	StatusAdvice string   `json:"statusAdvice"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOutput, fmt.Sprintf(format, args...))
}

// Validate enforces the verdict schema on a raw completion. Fields are
// sanitized before they are capped, and the emoji caps in limits are applied
// regardless of what the model was told.
func Validate(raw map[string]any, limits Limits) (Verdict, error) {
	if raw == nil {
		return Verdict{}, invalid("completion is not an object")
	}

	verdict, err := emojiField(raw, "verdict")
	if err != nil {
		return Verdict{}, err
	}
	sentence, err := emojiField(raw, "sentence")
	if err != nil {
		return Verdict{}, err
	}

	verdictText, err := requiredText(raw, "verdict_text", MaxTextRunes)
	if err != nil {
		return Verdict{}, err
	}
	sentenceText, err := requiredText(raw, "sentence_text", MaxTextRunes)
	if err != nil {
		return Verdict{}, err
	}
	advice := capRunes(strings.TrimSpace(stringValue(raw["status_advice"])), MaxAdviceRunes)
	if advice == "" {
		advice = DefaultAdvice
	}

	evidence := make([]string, 0, MaxEvidence)
	for _, item := range listValue(raw["evidence"]) {
		s, ok := item.(string)
		if !ok {
			continue
		}
		clean := Sanitize(s)
		if !IsEmojiOnly(clean) {
			continue
		}
		evidence = append(evidence, clean)
		if len(evidence) == MaxEvidence {
			break
		}
	}
	if len(evidence) == 0 {
		return Verdict{}, invalid("no usable evidence")
	}

	rawTexts := listValue(raw["evidence_text"])
	if len(rawTexts) != len(evidence) {
		return Verdict{}, invalid("evidence_text has %d entries, want %d", len(rawTexts), len(evidence))
	}
	evidenceText := make([]string, len(rawTexts))
	for i, item := range rawTexts {
		text := capRunes(strings.TrimSpace(stringValue(item)), MaxTextRunes)
		if text == "" {
			return Verdict{}, invalid("evidence_text[%d] is empty", i)
		}
		evidenceText[i] = text
	}

	for i := range evidence {
		evidence[i] = Truncate(evidence[i], limits.EvidenceMax)
	}

	return Verdict{
		Verdict:      Truncate(verdict, limits.VerdictMax),
		VerdictText:  verdictText,
		Sentence:     Truncate(sentence, limits.SentenceMax),
		SentenceText: sentenceText,
		Evidence:     evidence,
		EvidenceText: evidenceText,
		StatusAdvice: advice,
	}, nil
}

func emojiField(raw map[string]any, key string) (string, error) {
	clean := Sanitize(stringValue(raw[key]))
	if clean == "" {
		return "", invalid("%s is empty", key)
	}
	if !IsEmojiOnly(clean) {
		return "", invalid("%s must contain only emoji", key)
	}
	return clean, nil
}

func requiredText(raw map[string]any, key string, max int) (string, error) {
	text := capRunes(strings.TrimSpace(stringValue(raw[key])), max)
	if text == "" {
		return "", invalid("%s is missing", key)
	}
	return text, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func listValue(v any) []any {
	list, _ := v.([]any)
	return list
}

func capRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
