package canon

import "regexp"

// glossary maps domain jargon tokens to their translated form, applied
// token-boundary aware so "patternx" does not match "pattern".
var glossary = map[string]string{
	"wb":      "workbench",
	"ftr":     "feature",
	"ctr":     "constraint",
	"pctn":    "pocket",
	"asm":     "assembly",
	"xtr":     "extrude",
	"rvl":     "revolve",
}

var tokenBoundary = regexp.MustCompile(`\b(\w+)\b`)

// TranslateGlossary rewrites recognized jargon tokens inside text (intended
// for comment bodies) to their expanded form.
func TranslateGlossary(text string) string {
	return tokenBoundary.ReplaceAllStringFunc(text, func(tok string) string {
		if expanded, ok := glossary[tok]; ok {
			return expanded
		}
		return tok
	})
}
