package verdict

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// pictographic lists the emoji blocks that are not fully covered by the
// Unicode "Symbol, other" category.
var pictographic = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x203c, Hi: 0x203c, Stride: 1},
		{Lo: 0x2049, Hi: 0x2049, Stride: 1},
		{Lo: 0x2122, Hi: 0x2122, Stride: 1},
		{Lo: 0x2139, Hi: 0x2139, Stride: 1},
		{Lo: 0x2194, Hi: 0x21aa, Stride: 1},
		{Lo: 0x231a, Hi: 0x23ff, Stride: 1},
		{Lo: 0x24c2, Hi: 0x24c2, Stride: 1},
		{Lo: 0x25aa, Hi: 0x25fe, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2934, Hi: 0x2935, Stride: 1},
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1},
		{Lo: 0x3030, Hi: 0x3030, Stride: 1},
		{Lo: 0x303d, Hi: 0x303d, Stride: 1},
		{Lo: 0x3297, Hi: 0x3299, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
	},
}

// joiners are code points that only ever appear inside an emoji sequence:
// ZWJ, variation selectors, the keycap combiner and tag characters.
func isJoiner(r rune) bool {
	switch {
	case r == 0x200d, r == 0xfe0e, r == 0xfe0f, r == 0x20e3:
		return true
	case r >= 0xe0020 && r <= 0xe007f:
		return true
	}
	return false
}

func isPictographic(r rune) bool {
	return unicode.Is(unicode.So, r) || unicode.Is(pictographic, r)
}

// isEmojiCluster reports whether a grapheme cluster is one emoji glyph: at
// least one pictographic rune and nothing but pictographs and joiners.
func isEmojiCluster(cluster []rune) bool {
	seen := false
	for _, r := range cluster {
		switch {
		case isPictographic(r):
			seen = true
		case isJoiner(r):
		default:
			return false
		}
	}
	return seen
}

func isSpaceCluster(cluster []rune) bool {
	for _, r := range cluster {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return len(cluster) > 0
}

// Sanitize strips printable ASCII (letters, digits, punctuation and symbols)
// from an emoji field and trims surrounding whitespace. Joiners and
// variation selectors left without a pictograph before them, as from "a\u200d🔥"
// or a keycap sequence, are dropped too. It is idempotent.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	anchored := false // a pictograph starts the current joiner chain
	for _, r := range s {
		switch {
		case r >= 0x21 && r <= 0x7e:
			continue
		case isJoiner(r):
			if !anchored {
				continue
			}
		case isPictographic(r):
			anchored = true
		default:
			anchored = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// IsEmojiOnly reports whether s is non-empty and consists solely of emoji
// glyphs and whitespace.
func IsEmojiOnly(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cluster := g.Runes()
		if isSpaceCluster(cluster) {
			continue
		}
		if !isEmojiCluster(cluster) {
			return false
		}
	}
	return true
}

// GlyphCount returns the number of non-whitespace grapheme clusters in s.
func GlyphCount(s string) int {
	n := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		if !isSpaceCluster(g.Runes()) {
			n++
		}
	}
	return n
}

// Truncate keeps at most max glyphs of s, cutting only on grapheme cluster
// boundaries so multi-codepoint emoji are never split. Whitespace between
// kept glyphs is preserved; trailing whitespace is dropped.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	var b strings.Builder
	n := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		if isSpaceCluster(g.Runes()) {
			b.WriteString(g.Str())
			continue
		}
		if n == max {
			break
		}
		b.WriteString(g.Str())
		n++
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
