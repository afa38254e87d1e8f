package canon

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// ScriptError carries a machine failure code plus the source position for a
// rejected script, mirroring the structured parse errors consumers expect.
type ScriptError struct {
	Code    string
	Line    int
	Col     int
	Message string
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at %d:%d: %s", e.Code, e.Line, e.Col, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func scriptErr(code, message string, line, col int) *ScriptError {
	return &ScriptError{Code: code, Line: line, Col: col, Message: message}
}

// ScriptMetadata is the extracted summary of a canonicalized script.
type ScriptMetadata struct {
	ModulesUsed         []string
	Dims                map[string]float64
	Features            []string
	SketchConstraints   map[string]int
	SolidCount          int
	ConversionsApplied  int
}

// ScriptResult is the output of Script: the rewritten canonical text plus
// its extracted metadata.
type ScriptResult struct {
	CanonicalText string
	Metadata      ScriptMetadata
}

var (
	importLineRe   = regexp.MustCompile(`(?m)^\s*import\s+([\w, ]+?)\s*$`)
	identifierRe   = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
	unitAssignRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)_cm\s*=\s*(-?\d+(?:\.\d+)?)`)
	unitTrailingRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*#\s*(cm|inch)\b`)
	unitCallRe     = regexp.MustCompile(`\b(cm|inch)\(\s*(-?\d+(?:\.\d+)?)\s*\)`)
	callExprRe     = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+)\s*\(([^()]*)\)`)
	commentRe      = regexp.MustCompile(`(?m)(^|[^:])(#|//).*$`)
	lineColRe      = regexp.MustCompile(`\((\d+):(\d+)\)`)

	featureWords = map[string]bool{
		"Pad": true, "Pocket": true, "Revolution": true,
		"LinearPattern": true, "PolarPattern": true,
	}
)

const (
	cmToMM    = 10.0
	inchToMM  = 25.4
	finalCall = "compute_and_show();"
)

// Script canonicalizes a raw CAD script: validates imports and forbidden
// names, rewrites unit literals to millimeters, translates glossary tokens
// in comments, enforces the required-imports and final-call conventions,
// validates referenced APIs against the registry, and extracts a metadata
// summary. Returns a *ScriptError for any hard failure.
func Script(source string) (*ScriptResult, error) {
	imports, body, err := extractImports(source)
	if err != nil {
		return nil, err
	}
	if len(imports) == 0 {
		return nil, scriptErr("missing_required", "script must import at least one module", 1, 1)
	}
	for _, mod := range imports {
		if !IsAllowedImport(mod) {
			return nil, scriptErr("security_violation", "module not on the import allow-list: "+mod, 1, 1)
		}
	}

	if name, line, col, ok := findForbiddenName(body); ok {
		return nil, scriptErr("security_violation", "forbidden identifier: "+name, line, col)
	}

	body, conversions, dims := rewriteUnitLiterals(body)
	body = translateComments(body)
	body = enforceFinalCall(body)

	if err := validateSyntax(body); err != nil {
		return nil, err
	}

	features, constraints, solidCount, err := extractAPIMetadata(body)
	if err != nil {
		return nil, err
	}

	canonicalText := renderImports(imports) + body

	return &ScriptResult{
		CanonicalText: canonicalText,
		Metadata: ScriptMetadata{
			ModulesUsed:        imports,
			Dims:               dims,
			Features:           features,
			SketchConstraints:  constraints,
			SolidCount:         solidCount,
			ConversionsApplied: conversions,
		},
	}, nil
}

func extractImports(source string) ([]string, string, error) {
	var modules []string
	matches := importLineRe.FindAllStringSubmatchIndex(source, -1)

	body := source
	offset := 0
	for _, m := range matches {
		start, end := m[0]+offset, m[1]+offset
		list := source[m[2]:m[3]]
		for _, tok := range strings.Split(list, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				modules = append(modules, tok)
			}
		}
		body = body[:start] + body[end:]
		offset -= end - start
	}

	sort.Strings(modules)
	return modules, strings.TrimLeft(body, "\n"), nil
}

func findForbiddenName(body string) (string, int, int, bool) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		for _, loc := range identifierRe.FindAllStringIndex(line, -1) {
			name := line[loc[0]:loc[1]]
			if IsForbiddenName(name) {
				return name, i + 1, loc[0] + 1, true
			}
		}
	}
	return "", 0, 0, false
}

// rewriteUnitLiterals applies the three documented unit-literal patterns,
// converting to millimeters and rounding via the structured-path float
// rounding rule, and records the number of conversions plus a dims map of
// assignment-style conversions (name_cm=n).
func rewriteUnitLiterals(body string) (string, int, map[string]float64) {
	conversions := 0
	dims := make(map[string]float64)

	body = unitAssignRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := unitAssignRe.FindStringSubmatch(m)
		name, raw := sub[1], sub[2]
		val, _ := strconv.ParseFloat(raw, 64)
		mm := normalizeFloat(val * cmToMM)
		conversions++
		dims[name] = mm
		return fmt.Sprintf("%s = %s", name, strconv.FormatFloat(mm, 'g', -1, 64))
	})

	body = unitTrailingRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := unitTrailingRe.FindStringSubmatch(m)
		raw, unit := sub[1], sub[2]
		val, _ := strconv.ParseFloat(raw, 64)
		mm := convertToMM(val, unit)
		conversions++
		return strconv.FormatFloat(mm, 'g', -1, 64)
	})

	body = unitCallRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := unitCallRe.FindStringSubmatch(m)
		unit, raw := sub[1], sub[2]
		val, _ := strconv.ParseFloat(raw, 64)
		mm := convertToMM(val, unit)
		conversions++
		return strconv.FormatFloat(mm, 'g', -1, 64)
	})

	return body, conversions, dims
}

func convertToMM(val float64, unit string) float64 {
	switch unit {
	case "cm":
		return normalizeFloat(val * cmToMM)
	case "inch":
		return normalizeFloat(val * inchToMM)
	default:
		return normalizeFloat(val)
	}
}

// translateComments rewrites glossary tokens within comment bodies only,
// leaving executable code untouched.
func translateComments(body string) string {
	return commentRe.ReplaceAllStringFunc(body, func(m string) string {
		loc := commentRe.FindStringSubmatchIndex(m)
		markerStart := loc[4]
		prefix := m[:markerStart]
		comment := m[markerStart:]
		return prefix + TranslateGlossary(comment)
	})
}

// enforceFinalCall ensures the script ends with compute_and_show(); and a
// trailing newline.
func enforceFinalCall(body string) string {
	trimmed := strings.TrimRight(body, "\n\t ")
	if !strings.HasSuffix(trimmed, finalCall) {
		trimmed += "\n" + finalCall
	}
	return trimmed + "\n"
}

func renderImports(modules []string) string {
	if len(modules) == 0 {
		return ""
	}
	return "import " + strings.Join(modules, ", ") + "\n"
}

// validateSyntax feeds the rewritten body to goja's compiler purely for
// syntax validation (the body is JS-shaped after unit-literal and import
// stripping); parse errors are translated into a structured ScriptError
// carrying the reported line/column.
func validateSyntax(body string) error {
	jsSafe := commentRe.ReplaceAllStringFunc(body, func(m string) string {
		loc := commentRe.FindStringSubmatchIndex(m)
		markerStart, markerEnd := loc[4], loc[5]
		if m[markerStart:markerEnd] == "#" {
			return m[:markerStart] + "//" + m[markerEnd:]
		}
		return m
	})

	_, err := goja.Compile("script.js", jsSafe, false)
	if err == nil {
		return nil
	}

	line, col := 1, 1
	if loc := lineColRe.FindStringSubmatch(err.Error()); loc != nil {
		if l, convErr := strconv.Atoi(loc[1]); convErr == nil {
			line = l
		}
		if c, convErr := strconv.Atoi(loc[2]); convErr == nil {
			col = c
		}
	}
	return scriptErr("invalid_syntax", err.Error(), line, col)
}

// extractAPIMetadata walks call expressions in the rewritten body, validates
// each dotted call path against the API registry, and extracts feature
// usage, sketch constraint counts and solid count.
func extractAPIMetadata(body string) ([]string, map[string]int, int, error) {
	featureSet := make(map[string]bool)
	constraints := make(map[string]int)
	solidCount := 0

	for _, m := range callExprRe.FindAllStringSubmatch(body, -1) {
		path, argsRaw := m[1], m[2]
		entry, ok := LookupAPI(path)
		if !ok {
			if suggestion, found := SuggestAPI(path); found {
				return nil, nil, 0, scriptErr("api_not_found", "unknown API "+path+", did you mean "+suggestion+"?", 1, 1)
			}
			continue
		}
		if entry.Deprecated {
			return nil, nil, 0, scriptErr("api_deprecated", path+" is deprecated, use "+entry.Suggestion, 1, 1)
		}

		argc := countArgs(argsRaw)
		if argc < entry.MinArgs || (entry.MaxArgs >= 0 && argc > entry.MaxArgs) {
			return nil, nil, 0, scriptErr("missing_required", fmt.Sprintf("%s expects %d-%d args, got %d", path, entry.MinArgs, entry.MaxArgs, argc), 1, 1)
		}

		parts := strings.Split(path, ".")
		last := parts[len(parts)-1]
		if featureWords[last] {
			featureSet[last] = true
			solidCount++
		}
		if path == "Sketcher.AddConstraint" {
			kind := firstStringArg(argsRaw)
			if kind != "" {
				constraints[kind]++
			}
		}
	}

	features := make([]string, 0, len(featureSet))
	for f := range featureSet {
		features = append(features, f)
	}
	sort.Strings(features)

	return features, constraints, solidCount, nil
}

func countArgs(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	return len(strings.Split(raw, ","))
}

var stringLitRe = regexp.MustCompile(`^"([^"]*)"|^'([^']*)'`)

func firstStringArg(raw string) string {
	raw = strings.TrimSpace(raw)
	m := stringLitRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
