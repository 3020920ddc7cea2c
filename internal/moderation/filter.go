// Package moderation decides whether a submitted case may be judged. A local
// keyword pre-screen and contact-detail redaction run first; the remaining
// text is classified by an external model as allow, rewrite or block.
package moderation

import (
	"strings"
	"unicode"
)

// defaultBlocklist holds terms that are blocked without asking the
// classifier. Multi-word entries are matched as whole phrases.
var defaultBlocklist = []string{
	// self-harm
	"kill yourself", "kys", "go die",
	// sexual content involving minors
	"child porn", "cp links",
	// sexual solicitation
	"send nudes",
	// extremism
	"heil hitler", "white power",
	// threats
	"bomb threat",
	// scams
	"free bitcoin", "crypto giveaway",
}

// leetMap maps common character substitutions back to letters.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// FilterResult is the outcome of a local pre-screen.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" when Blocked
	Term    string // the matched blocklist entry
}

// Filter is a keyword and phrase blocklist. It is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a Filter loaded with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms builds a Filter from terms. Terms are lower-cased;
// blank terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.ContainsRune(t, ' ') {
			f.phrases = append(f.phrases, strings.Join(strings.Fields(t), " "))
			continue
		}
		f.words[t] = struct{}{}
	}
	return f
}

// Check screens text against the blocklist. Single words match whole tokens
// only, with and without leetspeak normalization; phrases match runs of
// whole tokens.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)
	plain := tokenizePlain(lower)
	leet := tokenizeLeet(lower)
	normalized := make([]string, len(leet))
	for i, tok := range leet {
		normalized[i] = normalizeLeet(tok)
	}

	for _, tokens := range [][]string{plain, normalized} {
		for _, tok := range tokens {
			if _, ok := f.words[tok]; ok {
				return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
			}
		}
	}

	if len(f.phrases) > 0 {
		for _, tokens := range [][]string{plain, normalized} {
			joined := " " + strings.Join(tokens, " ") + " "
			for _, p := range f.phrases {
				if strings.Contains(joined, " "+p+" ") {
					return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: p}
				}
			}
		}
	}

	return FilterResult{}
}

// normalizeLeet replaces leetspeak substitutions with the letters they stand for.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if m, ok := leetMap[r]; ok {
			return m
		}
		return r
	}, s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits like tokenizePlain but keeps the symbols that leetMap
// understands inside tokens.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		if _, ok := leetMap[r]; ok {
			return false
		}
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
