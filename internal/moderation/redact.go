package moderation

import (
	"regexp"
	"strings"
)

// Compiled once at package init and shared by every request.
var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains on
	// common TLDs. The bare-domain variant requires a trailing "/" so that
	// version strings like "v2.0" or decimals like "3.14" are left alone.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches formats such as +1-555-123-4567, (555) 123-4567
	// and 555.123.4567. It is anchored to whitespace so short numbers like
	// "100" are not touched.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	linkPlaceholder  = "[link]"
	phonePlaceholder = "[phone]"
)

// redaction pairs a pattern with the placeholder that replaces it.
type redaction struct {
	name        string
	pattern     *regexp.Regexp
	placeholder string
}

// redactions are applied in order; phone numbers run after URLs so digits
// inside a URL are never reported twice.
var redactions = []redaction{
	{name: "url", pattern: urlPattern, placeholder: linkPlaceholder},
	{name: "phone", pattern: phonePattern, placeholder: phonePlaceholder},
}

// Redact replaces contact details in text with placeholders. It returns the
// redacted text and the names of the redactions that fired.
func Redact(text string) (string, []string) {
	var fired []string
	for _, r := range redactions {
		if !r.pattern.MatchString(text) {
			continue
		}
		fired = append(fired, r.name)
		text = r.pattern.ReplaceAllStringFunc(text, func(match string) string {
			// Keep the whitespace anchors the phone pattern consumes.
			core := strings.TrimSpace(match)
			lead := match[:strings.Index(match, core)]
			trail := match[len(lead)+len(core):]
			return lead + r.placeholder + trail
		})
	}
	return text, fired
}
