// Package verdict turns moderated, normalized text into a validated emoji
// verdict. It owns the density-derived emoji caps, the prompt sent to the
// generative backend, parsing of the raw completion, and the validator that
// sanitizes and truncates whatever the model returns.
package verdict

import "math"

const (
	MinDensity = 0
	MaxDensity = 10
)

// Limits caps the number of emoji glyphs allowed in each emoji-only field.
type Limits struct {
	VerdictMax  int `json:"verdictMax"`
	SentenceMax int `json:"sentenceMax"`
	EvidenceMax int `json:"evidenceMax"`
}

// ClampDensity bounds density to [MinDensity, MaxDensity]. NaN maps to 0.
func ClampDensity(density float64) float64 {
	if math.IsNaN(density) {
		return MinDensity
	}
	return math.Max(MinDensity, math.Min(MaxDensity, density))
}

// LimitsFor computes the emoji caps for a density. The same caps are given to
// the model as instructions and enforced again by Validate.
func LimitsFor(density float64) Limits {
	d := ClampDensity(density)

	verdict := 1
	if d > 5 {
		verdict++
	}

	return Limits{
		VerdictMax:  clampInt(verdict, 1, 3),
		SentenceMax: clampInt(int(math.Floor(4+2*d)), 4, 24),
		EvidenceMax: clampInt(int(math.Floor(3+d)), 3, 16),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
