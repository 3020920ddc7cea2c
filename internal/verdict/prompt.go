package verdict

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are the Emoji Court. You judge short statements and answer ONLY with a single JSON object, no prose and no code fences.`

// BuildPrompt renders the user instruction for a case. The caps are stated
// explicitly so the model can respect them; Validate enforces them anyway.
func BuildPrompt(text string, density float64, limits Limits) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case: %q\n", text)
	fmt.Fprintf(&b, "Chaos density: %.1f on a 0-10 scale. Higher density means busier, wilder emoji.\n\n", ClampDensity(density))
	b.WriteString("Return a JSON object with exactly these keys:\n")
	fmt.Fprintf(&b, "- \"verdict\": emoji only, at most %d emoji.\n", limits.VerdictMax)
	b.WriteString("- \"verdict_text\": one plain-language sentence explaining the verdict (max 160 characters).\n")
	fmt.Fprintf(&b, "- \"sentence\": emoji only, at most %d emoji, the punishment or reward.\n", limits.SentenceMax)
	b.WriteString("- \"sentence_text\": plain-language explanation of the sentence (max 160 characters).\n")
	fmt.Fprintf(&b, "- \"evidence\": array of 1 to %d strings, each emoji only with at most %d emoji.\n", MaxEvidence, limits.EvidenceMax)
	b.WriteString("- \"evidence_text\": array of plain-language explanations, one per evidence entry, same order and same length.\n")
	b.WriteString("- \"status_advice\": one short piece of advice (max 80 characters).\n")
	b.WriteString("Emoji-only fields must not contain letters, digits or punctuation.")
	return b.String()
}
