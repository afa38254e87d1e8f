// Package canon canonicalizes structured parametric inputs and CAD scripts
// into stable, order-free byte strings that feed the cache key generator.
package canon

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	roundTo    = 1e-6
	clampBelow = 1e-10
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Structured canonicalizes an arbitrary structured value (maps, slices,
// scalars) into a compact, order-free byte string: map keys sorted
// ascending at every level, empty values dropped, floats rounded half-up to
// 1e-6 with sub-1e-10 magnitudes clamped to zero, strings NFKC-normalized
// with whitespace runs collapsed.
//
// The result is idempotent: canonicalizing canonical output returns the
// same bytes.
func Structured(value interface{}) []byte {
	normalized := normalizeValue(value)
	var sb strings.Builder
	encode(&sb, normalized)
	return []byte(sb.String())
}

// Prompt canonicalizes top-level free text: PII-masked and lowercased
// outside quoted spans, in addition to the NFKC/whitespace normalization
// applied to all strings.
func Prompt(text string) []byte {
	masked := MaskPII(text)
	lowered := lowercaseOutsideQuotes(masked)
	return []byte(normalizeString(lowered))
}

// normalizeValue recursively applies the drop/round/normalize rules and
// returns a value tree of only: nil (dropped markers are removed by the
// caller), bool, int64, float64, string, []interface{}, map[string]interface{}.
func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return v
	case string:
		return normalizeString(v)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			nv := normalizeValue(val)
			if isEmpty(nv) {
				continue
			}
			out[k] = nv
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			ni := normalizeValue(item)
			if isEmpty(ni) {
				continue
			}
			out = append(out, ni)
		}
		return out
	default:
		return normalizeString(fmt.Sprintf("%v", v))
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// normalizeFloat rounds half-up to 1e-6 and clamps sub-1e-10 magnitudes to
// zero.
func normalizeFloat(f float64) float64 {
	if math.Abs(f) < clampBelow {
		return 0
	}
	scaled := f / roundTo
	rounded := math.Floor(scaled + 0.5)
	if scaled < 0 {
		rounded = math.Ceil(scaled - 0.5)
	}
	return rounded * roundTo
}

// normalizeString applies NFKC normalization and collapses whitespace runs
// to a single space, trimming the result.
func normalizeString(s string) string {
	n := norm.NFKC.String(s)
	n = whitespaceRun.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// encode writes a compact, ASCII-only, JSON-equivalent serialization with no
// spaces after separators and map keys sorted ascending.
func encode(sb *strings.Builder, value interface{}) {
	switch v := value.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if v {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case float64:
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		encodeString(sb, v)
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			encode(sb, item)
		}
		sb.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodeString(sb, k)
			sb.WriteByte(':')
			encode(sb, v[k])
		}
		sb.WriteByte('}')
	default:
		encodeString(sb, fmt.Sprintf("%v", v))
	}
}

func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r > 127 {
				sb.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}

// lowercaseOutsideQuotes lowercases text outside single- or double-quoted
// spans, respecting proper quote pairing.
func lowercaseOutsideQuotes(s string) string {
	var sb strings.Builder
	var quote rune

	for _, r := range s {
		if quote != 0 {
			sb.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		if r == '\'' || r == '"' {
			quote = r
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}
