// Package errors provides unified, structured error handling for the CAD
// job orchestration substrate. Every public boundary returns a *ServiceError
// instead of letting ad-hoc error strings or panics leak through: a machine
// code, a short message, and a details bag.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique, machine-readable error code.
type ErrorCode string

// Kind classifies an ErrorCode for propagation/retry policy (spec §7).
type Kind string

const (
	KindUserInput Kind = "user_input" // never retried
	KindTransient Kind = "transient"  // retried with backoff
	KindResource  Kind = "resource"   // not retried on the hot path
	KindFatal     Kind = "fatal"      // opens the circuit breaker, alerts
)

const (
	// Canonicalizer / Rules Engine script validation (§4.2, §4.8)
	ErrCodeInvalidSyntax          ErrorCode = "SCRIPT_INVALID_SYNTAX"
	ErrCodeSecurityViolation      ErrorCode = "SCRIPT_SECURITY_VIOLATION"
	ErrCodeAPINotFound            ErrorCode = "SCRIPT_API_NOT_FOUND"
	ErrCodeAPIDeprecated          ErrorCode = "SCRIPT_API_DEPRECATED"
	ErrCodeDimensionError         ErrorCode = "SCRIPT_DIMENSION_ERROR"
	ErrCodeAngleError             ErrorCode = "SCRIPT_ANGLE_ERROR"
	ErrCodeConstraintUnsupported  ErrorCode = "SCRIPT_CONSTRAINT_UNSUPPORTED"
	ErrCodeSketchUnderconstrained ErrorCode = "SCRIPT_SKETCH_UNDERCONSTRAINED"
	ErrCodeSingleSolidViolation   ErrorCode = "SCRIPT_SINGLE_SOLID_VIOLATION"
	ErrCodePatternError           ErrorCode = "SCRIPT_PATTERN_ERROR"
	ErrCodeMissingRequired        ErrorCode = "SCRIPT_MISSING_REQUIRED"
	ErrCodeAmbiguousInput         ErrorCode = "SCRIPT_AMBIGUOUS_INPUT"
	ErrCodeAIHintRequired         ErrorCode = "SCRIPT_AI_HINT_REQUIRED"

	// Upload normalizer (§4.9)
	ErrCodeUnsupportedFormat      ErrorCode = "UPLOAD_UNSUPPORTED_FORMAT"
	ErrCodeStepTopology           ErrorCode = "UPLOAD_STEP_TOPOLOGY"
	ErrCodeIGESUntrimmed          ErrorCode = "UPLOAD_IGES_UNTRIMMED"
	ErrCodeSTLNotManifold         ErrorCode = "UPLOAD_STL_NOT_MANIFOLD"
	ErrCodeDXFUnitsUnknown        ErrorCode = "UPLOAD_DXF_UNITS_UNKNOWN"
	ErrCodeIFCDepMissing          ErrorCode = "UPLOAD_IFC_DEP_MISSING"
	ErrCodeIFCGeomFail            ErrorCode = "UPLOAD_IFC_GEOM_FAIL"
	ErrCodeGeometryInvalid        ErrorCode = "UPLOAD_GEOMETRY_INVALID"
	ErrCodeUnitConversionFailed   ErrorCode = "UPLOAD_UNIT_CONVERSION_FAILED"
	ErrCodeOrientationFailed      ErrorCode = "UPLOAD_ORIENTATION_FAILED"
	ErrCodeValidationFailed       ErrorCode = "UPLOAD_VALIDATION_FAILED"
	ErrCodeS3DownloadFailed       ErrorCode = "UPLOAD_S3_DOWNLOAD_FAILED"
	ErrCodeS3UploadFailed         ErrorCode = "UPLOAD_S3_UPLOAD_FAILED"
	ErrCodePreviewGenerationFailed ErrorCode = "UPLOAD_PREVIEW_GENERATION_FAILED"

	// Job executor (§4.12)
	ErrCodeLicenseRestriction  ErrorCode = "EXEC_LICENSE_RESTRICTION"
	ErrCodeResourceExhausted  ErrorCode = "EXEC_RESOURCE_EXHAUSTED"
	ErrCodeEngineNotFound     ErrorCode = "EXEC_ENGINE_NOT_FOUND"
	ErrCodeInvalidVersion     ErrorCode = "EXEC_INVALID_VERSION"
	ErrCodeTimeoutExceeded    ErrorCode = "EXEC_TIMEOUT_EXCEEDED"
	ErrCodeMemoryLimitExceeded ErrorCode = "EXEC_MEMORY_LIMIT_EXCEEDED"
	ErrCodeSubprocessFailed   ErrorCode = "EXEC_SUBPROCESS_FAILED"
	ErrCodeCircuitBreakerOpen ErrorCode = "EXEC_CIRCUIT_BREAKER_OPEN"
	ErrCodeTemporaryFailure   ErrorCode = "EXEC_TEMPORARY_FAILURE"

	// Document manager (§4.10)
	ErrCodeDocumentLocked     ErrorCode = "DOC_LOCKED"
	ErrCodeLockOwnerMismatch  ErrorCode = "DOC_LOCK_OWNER_MISMATCH"
	ErrCodeDocumentCorrupt    ErrorCode = "DOC_CORRUPT"
	ErrCodeMigrationFailed    ErrorCode = "DOC_MIGRATION_FAILED"
	ErrCodeDocumentNotFound   ErrorCode = "DOC_NOT_FOUND"
	ErrCodeDocumentExists     ErrorCode = "DOC_ALREADY_EXISTS"
	ErrCodeTransactionState   ErrorCode = "DOC_TRANSACTION_STATE"

	// Cache manager (§4.5, §4.7)
	ErrCodeLockTimeout       ErrorCode = "CACHE_LOCK_TIMEOUT"
	ErrCodeCompressionError  ErrorCode = "CACHE_COMPRESSION_ERROR"
	ErrCodeRedisConnection   ErrorCode = "CACHE_REDIS_CONNECTION_ERROR"

	// Generic / validation
	ErrCodeInvalidInput     ErrorCode = "VAL_INVALID_INPUT"
	ErrCodeMissingParameter ErrorCode = "VAL_MISSING_PARAMETER"
	ErrCodeNotFound         ErrorCode = "RES_NOT_FOUND"
	ErrCodeAlreadyExists    ErrorCode = "RES_ALREADY_EXISTS"
	ErrCodeConflict         ErrorCode = "RES_CONFLICT"
	ErrCodeInternal         ErrorCode = "SVC_INTERNAL"
	ErrCodeTimeout          ErrorCode = "SVC_TIMEOUT"
)

// kindOf maps each error code to its retry/propagation kind (spec §7).
var kindOf = map[ErrorCode]Kind{
	ErrCodeInvalidSyntax:          KindUserInput,
	ErrCodeSecurityViolation:      KindUserInput,
	ErrCodeAPINotFound:            KindUserInput,
	ErrCodeAPIDeprecated:          KindUserInput,
	ErrCodeDimensionError:         KindUserInput,
	ErrCodeAngleError:             KindUserInput,
	ErrCodeConstraintUnsupported:  KindUserInput,
	ErrCodeSketchUnderconstrained: KindUserInput,
	ErrCodeSingleSolidViolation:   KindUserInput,
	ErrCodePatternError:           KindUserInput,
	ErrCodeMissingRequired:        KindUserInput,
	ErrCodeAmbiguousInput:         KindUserInput,
	ErrCodeAIHintRequired:         KindUserInput,
	ErrCodeUnsupportedFormat:      KindUserInput,
	ErrCodeLicenseRestriction:     KindUserInput,
	ErrCodeValidationFailed:       KindUserInput,

	ErrCodeTemporaryFailure: KindTransient,
	ErrCodeS3DownloadFailed: KindTransient,
	ErrCodeS3UploadFailed:   KindTransient,
	ErrCodeCompressionError: KindTransient,
	ErrCodeRedisConnection:  KindTransient,
	ErrCodeLockTimeout:      KindTransient,

	ErrCodeResourceExhausted:   KindResource,
	ErrCodeMemoryLimitExceeded: KindResource,
	ErrCodeTimeoutExceeded:     KindResource,

	ErrCodeEngineNotFound:  KindFatal,
	ErrCodeInvalidVersion:  KindFatal,
	ErrCodeDocumentCorrupt: KindFatal,
	ErrCodeMigrationFailed: KindFatal,
}

// KindOf returns the retry/propagation kind for a code, defaulting to
// KindTransient for unclassified codes so unknown failures are retried
// rather than silently swallowed or treated as fatal.
func KindOf(code ErrorCode) Kind {
	if k, ok := kindOf[code]; ok {
		return k
	}
	return KindTransient
}

// ServiceError represents a structured error with code, message, and details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Kind reports the retry/propagation kind of this error.
func (e *ServiceError) Kind() Kind {
	return KindOf(e.Code)
}

// WithDetails adds additional details to the error and returns it for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// --- Script / canonicalizer constructors (§4.2, §4.8) ---

func InvalidSyntax(line, col int, detail string) *ServiceError {
	return New(ErrCodeInvalidSyntax, "script has invalid syntax", http.StatusBadRequest).
		WithDetails("line", line).WithDetails("column", col).WithDetails("detail", detail)
}

func SecurityViolation(name string) *ServiceError {
	return New(ErrCodeSecurityViolation, "script contains a forbidden construct", http.StatusBadRequest).
		WithDetails("name", name)
}

func APINotFound(name string, suggestion string) *ServiceError {
	e := New(ErrCodeAPINotFound, "unknown API call", http.StatusBadRequest).WithDetails("name", name)
	if suggestion != "" {
		e.WithDetails("suggestion", suggestion)
	}
	return e
}

func APIDeprecated(name, suggestion string) *ServiceError {
	return New(ErrCodeAPIDeprecated, "API is deprecated", http.StatusBadRequest).
		WithDetails("name", name).WithDetails("suggestion", suggestion)
}

func DimensionError(field string, value float64) *ServiceError {
	return New(ErrCodeDimensionError, "dimension value is invalid", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("value", value)
}

func AngleError(field string, value float64) *ServiceError {
	return New(ErrCodeAngleError, "angle value is invalid", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("value", value)
}

func ConstraintUnsupported(kind string) *ServiceError {
	return New(ErrCodeConstraintUnsupported, "sketch constraint kind is unsupported", http.StatusBadRequest).
		WithDetails("kind", kind)
}

func SketchUnderconstrained(missing int) *ServiceError {
	return New(ErrCodeSketchUnderconstrained, "sketch is underconstrained", http.StatusBadRequest).
		WithDetails("missing_dof", missing)
}

func SingleSolidViolation(count int) *ServiceError {
	return New(ErrCodeSingleSolidViolation, "script must produce exactly one solid", http.StatusBadRequest).
		WithDetails("solid_count", count)
}

func PatternError(reason string) *ServiceError {
	return New(ErrCodePatternError, "pattern parameters are invalid", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func MissingRequired(name string) *ServiceError {
	return New(ErrCodeMissingRequired, "required import or suffix is missing", http.StatusBadRequest).
		WithDetails("name", name)
}

func AmbiguousInput(reason string) *ServiceError {
	return New(ErrCodeAmbiguousInput, "input is over-constrained / ambiguous", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func AIHintRequired(reason string) *ServiceError {
	return New(ErrCodeAIHintRequired, "additional AI hint is required to proceed", http.StatusBadRequest).
		WithDetails("reason", reason)
}

// --- Upload normalizer constructors (§4.9) ---

func UnsupportedFormat(format string) *ServiceError {
	return New(ErrCodeUnsupportedFormat, "upload format is not supported", http.StatusBadRequest).
		WithDetails("format", format)
}

func StepTopology(reason string) *ServiceError {
	return New(ErrCodeStepTopology, "STEP topology could not be resolved", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

func IGESUntrimmed() *ServiceError {
	return New(ErrCodeIGESUntrimmed, "IGES surfaces are untrimmed", http.StatusUnprocessableEntity)
}

func STLNotManifold() *ServiceError {
	return New(ErrCodeSTLNotManifold, "STL mesh is not manifold", http.StatusUnprocessableEntity)
}

func DXFUnitsUnknown() *ServiceError {
	return New(ErrCodeDXFUnitsUnknown, "DXF $INSUNITS could not be determined", http.StatusUnprocessableEntity)
}

func IFCDepMissing(dep string) *ServiceError {
	return New(ErrCodeIFCDepMissing, "IFC handler dependency is missing", http.StatusFailedDependency).
		WithDetails("dependency", dep)
}

func IFCGeomFail(reason string) *ServiceError {
	return New(ErrCodeIFCGeomFail, "IFC geometry conversion failed", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

func GeometryInvalid(reason string) *ServiceError {
	return New(ErrCodeGeometryInvalid, "geometry failed validity checks", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

func UnitConversionFailed(from string) *ServiceError {
	return New(ErrCodeUnitConversionFailed, "unit conversion failed", http.StatusUnprocessableEntity).
		WithDetails("from", from)
}

func OrientationFailed(reason string) *ServiceError {
	return New(ErrCodeOrientationFailed, "orientation normalization failed", http.StatusUnprocessableEntity).
		WithDetails("reason", reason)
}

func ValidationFailed(warnings []string) *ServiceError {
	return New(ErrCodeValidationFailed, "document failed validation", http.StatusUnprocessableEntity).
		WithDetails("warnings", warnings)
}

func S3DownloadFailed(err error) *ServiceError {
	return Wrap(ErrCodeS3DownloadFailed, "object storage download failed", http.StatusBadGateway, err)
}

func S3UploadFailed(err error) *ServiceError {
	return Wrap(ErrCodeS3UploadFailed, "object storage upload failed", http.StatusBadGateway, err)
}

func PreviewGenerationFailed(err error) *ServiceError {
	return Wrap(ErrCodePreviewGenerationFailed, "preview generation failed", http.StatusUnprocessableEntity, err)
}

// --- Job executor constructors (§4.12) ---

func LicenseRestriction(requestedFormat, tier string) *ServiceError {
	return New(ErrCodeLicenseRestriction, "output format is not allowed for this tier", http.StatusForbidden).
		WithDetails("requested_format", requestedFormat).WithDetails("tier", tier)
}

func ResourceExhausted(tenantID string, limit int) *ServiceError {
	return New(ErrCodeResourceExhausted, "per-tenant concurrency limit exhausted", http.StatusTooManyRequests).
		WithDetails("tenant_id", tenantID).WithDetails("limit", limit)
}

func EngineNotFound(searched []string) *ServiceError {
	return New(ErrCodeEngineNotFound, "CAD engine binary could not be located", http.StatusFailedDependency).
		WithDetails("searched_paths", searched)
}

func InvalidVersion(found, required string) *ServiceError {
	return New(ErrCodeInvalidVersion, "CAD engine version is below the required minimum", http.StatusFailedDependency).
		WithDetails("found", found).WithDetails("required", required)
}

func TimeoutExceeded(wallSeconds int) *ServiceError {
	return New(ErrCodeTimeoutExceeded, "job exceeded its wall-clock budget", http.StatusGatewayTimeout).
		WithDetails("max_wall_s", wallSeconds)
}

func MemoryLimitExceeded(limitMB, peakMB int) *ServiceError {
	return New(ErrCodeMemoryLimitExceeded, "job exceeded its memory budget", http.StatusUnprocessableEntity).
		WithDetails("max_mem_mb", limitMB).WithDetails("peak_mem_mb", peakMB)
}

func SubprocessFailed(exitCode int, stderr string) *ServiceError {
	return New(ErrCodeSubprocessFailed, "engine subprocess exited with an error", http.StatusUnprocessableEntity).
		WithDetails("exit_code", exitCode).WithDetails("stderr", stderr)
}

func CircuitBreakerOpen() *ServiceError {
	return New(ErrCodeCircuitBreakerOpen, "circuit breaker is open", http.StatusServiceUnavailable)
}

func TemporaryFailure(err error) *ServiceError {
	return Wrap(ErrCodeTemporaryFailure, "an unanticipated failure occurred", http.StatusInternalServerError, err)
}

// --- Document manager constructors (§4.10) ---

func DocumentLocked(docID string) *ServiceError {
	return New(ErrCodeDocumentLocked, "document is locked by another owner", http.StatusConflict).
		WithDetails("document_id", docID)
}

func LockOwnerMismatch(docID, ownerID string) *ServiceError {
	return New(ErrCodeLockOwnerMismatch, "lock owner does not match", http.StatusConflict).
		WithDetails("document_id", docID).WithDetails("owner_id", ownerID)
}

func DocumentCorrupt(docID, reason string) *ServiceError {
	return New(ErrCodeDocumentCorrupt, "document data is corrupt", http.StatusUnprocessableEntity).
		WithDetails("document_id", docID).WithDetails("reason", reason)
}

func MigrationFailed(docID string, rule string, err error) *ServiceError {
	return Wrap(ErrCodeMigrationFailed, "document migration failed", http.StatusUnprocessableEntity, err).
		WithDetails("document_id", docID).WithDetails("rule", rule)
}

func DocumentNotFound(docID string) *ServiceError {
	return New(ErrCodeDocumentNotFound, "document not found", http.StatusNotFound).
		WithDetails("document_id", docID)
}

func DocumentAlreadyExists(docID string) *ServiceError {
	return New(ErrCodeDocumentExists, "document already exists", http.StatusConflict).
		WithDetails("document_id", docID)
}

func TransactionState(txnID, state, wanted string) *ServiceError {
	return New(ErrCodeTransactionState, "transaction is not in the required state", http.StatusConflict).
		WithDetails("txn_id", txnID).WithDetails("state", state).WithDetails("wanted", wanted)
}

// --- Cache constructors (§4.5, §4.7) ---

func LockTimeout(key string) *ServiceError {
	return New(ErrCodeLockTimeout, "timed out waiting for the distributed compute lock", http.StatusGatewayTimeout).
		WithDetails("key", key)
}

func CompressionError(err error) *ServiceError {
	return Wrap(ErrCodeCompressionError, "cache payload decompression failed", http.StatusInternalServerError, err)
}

func RedisConnectionError(err error) *ServiceError {
	return Wrap(ErrCodeRedisConnection, "distributed cache connection failed", http.StatusBadGateway, err)
}

// --- Generic constructors ---

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "resource already exists", http.StatusConflict).
		WithDetails("resource", resource).WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// --- Helpers ---

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code associated with an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code extracts the ErrorCode from an error, or "" if it is not a ServiceError.
func Code(err error) ErrorCode {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Code
	}
	return ""
}
