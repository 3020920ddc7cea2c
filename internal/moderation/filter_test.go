package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test: prescreen of submitted cases
// ---------------------------------------------------------------------------

func TestFilter_Cases(t *testing.T) {
	f := NewFilterWithTerms([]string{"snitch", "go die"})

	tests := []struct {
		name string
		text string
		term string // empty means the case is heard
	}{
		{"word in a case", "my roommate is a snitch and told our landlord", "snitch"},
		{"shouted", "SNITCH!!", "snitch"},
		{"leet symbol", "he's such a sn!tch about the thermostat", "snitch"},
		{"leet digit", "total sn1tch", "snitch"},
		{"phrase", "he told me to go die over a parking spot", "go die"},
		{"leet phrase", "she said g0 d1e when I took the last fry", "go die"},
		{"longer word is heard", "snitches get stitches, your honour", ""},
		{"split phrase is heard", "go and die on that hill about tabs vs spaces", ""},
		{"embedded word is heard", "the antisnitch rule at work", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.text)
			if tt.term == "" {
				assert.False(t, res.Blocked, "term=%q", res.Term)
				return
			}
			require.True(t, res.Blocked)
			assert.Equal(t, tt.term, res.Term)
			assert.Equal(t, "blocked_keyword", res.Reason)
		})
	}
}

func TestFilter_DefaultListHearsOrdinaryCases(t *testing.T) {
	f := NewFilter()

	for _, text := range []string{
		"Pineapple on pizza is a crime.",
		"my sister took the last slice and blamed the dog",
		"my coworker microwaves fish at 8am every day",
		"is it wrong to recline my seat on a 2 hour flight?",
		"he says 7 hours of sleep is plenty",
		"",
	} {
		res := f.Check(text)
		assert.False(t, res.Blocked, "%q blocked by %q", text, res.Term)
	}
}

func TestFilter_DefaultListBlocks(t *testing.T) {
	f := NewFilter()

	for _, text := range []string{
		"the defendant said kys",
		"tell him to kill yourself",
		"send nudes or else",
		"heil hitler",
		"this is a bomb threat",
		"click for free bitcoin",
		"CRYPTO   giveaway tonight",
	} {
		assert.True(t, f.Check(text).Blocked, "%q should be blocked", text)
	}
}

func TestNewFilterWithTerms(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "Snitch", "Go   Die"})

	assert.Equal(t, map[string]struct{}{"snitch": {}}, f.words)
	assert.Equal(t, []string{"go die"}, f.phrases)
	assert.NotEmpty(t, NewFilter().phrases)
}

// ---------------------------------------------------------------------------
// Test: tokenization helpers
// ---------------------------------------------------------------------------

func TestNormalizeLeet(t *testing.T) {
	for in, want := range map[string]string{
		"verdict":  "verdict",
		"gu1l7y":   "guilty",
		"@cqu!7":   "acquit",
		"$3n73nc3": "sentence",
	} {
		assert.Equal(t, want, normalizeLeet(in), in)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		text  string
		plain []string
		leet  []string
	}{
		{"guilty as charged", []string{"guilty", "as", "charged"}, []string{"guilty", "as", "charged"}},
		{"guilty!! or not?", []string{"guilty", "or", "not"}, []string{"guilty!!", "or", "not"}},
		{"$h@me on you", []string{"h", "me", "on", "you"}, []string{"$h@me", "on", "you"}},
		{"  ", []string{}, []string{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.plain, tokenizePlain(tt.text), "plain %q", tt.text)
		assert.Equal(t, tt.leet, tokenizeLeet(tt.text), "leet %q", tt.text)
	}
}

func BenchmarkFilter_Check(b *testing.B) {
	f := NewFilter()
	text := strings.Repeat("my coworker microwaves fish at 8am and calls it brain food. ", 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(text)
	}
}
