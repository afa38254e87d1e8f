// Package rules normalizes and validates parametric inputs and CAD scripts
// ahead of the cache key generator, translating canonicalization failures
// into the service error taxonomy.
package rules

import (
	"github.com/cncaiprojem/projem-sub004/infrastructure/errors"
	"github.com/cncaiprojem/projem-sub004/internal/canon"
)

// NormalizeParams canonicalizes a structured parametric input.
func NormalizeParams(params map[string]interface{}) []byte {
	return canon.Structured(params)
}

// NormalizePrompt canonicalizes free-text prompt input.
func NormalizePrompt(text string) []byte {
	return canon.Prompt(text)
}

// ValidateScript canonicalizes and validates a raw CAD script, translating
// any *canon.ScriptError into the corresponding *errors.ServiceError.
func ValidateScript(source string) (*canon.ScriptResult, error) {
	res, err := canon.Script(source)
	if err == nil {
		return res, nil
	}

	scriptErr, ok := err.(*canon.ScriptError)
	if !ok {
		return nil, errors.Internal("script canonicalization failed", err)
	}

	return nil, translateScriptError(scriptErr)
}

func translateScriptError(e *canon.ScriptError) *errors.ServiceError {
	switch e.Code {
	case "invalid_syntax":
		return errors.InvalidSyntax(e.Line, e.Col, e.Message)
	case "security_violation":
		return errors.SecurityViolation(e.Message)
	case "api_not_found":
		return errors.APINotFound(e.Message, "")
	case "api_deprecated":
		return errors.APIDeprecated(e.Message, "")
	case "dimension_error":
		return errors.DimensionError(e.Message, 0)
	case "angle_error":
		return errors.AngleError(e.Message, 0)
	case "constraint_unsupported":
		return errors.ConstraintUnsupported(e.Message)
	case "sketch_underconstrained":
		return errors.SketchUnderconstrained(0)
	case "single_solid_violation":
		return errors.SingleSolidViolation(0)
	case "pattern_error":
		return errors.PatternError(e.Message)
	case "missing_required":
		return errors.MissingRequired(e.Message)
	case "ambiguous_input":
		return errors.AmbiguousInput(e.Message)
	case "ai_hint_required":
		return errors.AIHintRequired(e.Message)
	default:
		return errors.Internal("unrecognized script validation failure: "+e.Code, e)
	}
}
