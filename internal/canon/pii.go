package canon

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// MaskPII replaces recognized PII patterns (email, phone, credit card, SSN)
// with fixed placeholders. SSN and card patterns are applied before the
// generic phone pattern so digit runs are not double-masked.
func MaskPII(text string) string {
	out := emailPattern.ReplaceAllString(text, "[EMAIL]")
	out = ssnPattern.ReplaceAllString(out, "[SSN]")
	out = cardPattern.ReplaceAllString(out, "[CARD]")
	out = phonePattern.ReplaceAllString(out, "[PHONE]")
	return out
}
