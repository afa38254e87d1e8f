package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(ErrCodeInvalidInput, "test message", http.StatusBadRequest),
			want: "[VAL_INVALID_INPUT] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(ErrCodeInternal, "test message", http.StatusInternalServerError, errors.New("underlying")),
			want: "[SVC_INTERNAL] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, "test", http.StatusInternalServerError, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Errorf("errors.Is should unwrap to underlying")
	}
}

func TestServiceError_WithDetails(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test", http.StatusBadRequest)
	err.WithDetails("field", "x").WithDetails("reason", "too short")

	if len(err.Details) != 2 {
		t.Fatalf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "x" {
		t.Errorf("Details[field] = %v, want x", err.Details["field"])
	}
}

func TestKindOf(t *testing.T) {
	cases := map[ErrorCode]Kind{
		ErrCodeSecurityViolation:  KindUserInput,
		ErrCodeLicenseRestriction: KindUserInput,
		ErrCodeS3DownloadFailed:   KindTransient,
		ErrCodeResourceExhausted:  KindResource,
		ErrCodeEngineNotFound:     KindFatal,
	}
	for code, want := range cases {
		if got := KindOf(code); got != want {
			t.Errorf("KindOf(%s) = %s, want %s", code, got, want)
		}
	}
	if got := KindOf(ErrorCode("unknown")); got != KindTransient {
		t.Errorf("KindOf(unknown) = %s, want %s (default)", got, KindTransient)
	}
}

func TestIsServiceErrorAndHelpers(t *testing.T) {
	svcErr := LicenseRestriction("STEP", "basic")
	require.True(t, IsServiceError(svcErr))
	assert.Equal(t, http.StatusForbidden, GetHTTPStatus(svcErr))
	assert.Equal(t, ErrCodeLicenseRestriction, Code(svcErr))
	assert.Empty(t, Code(errors.New("plain")))

	plain := errors.New("boom")
	assert.False(t, IsServiceError(plain))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(plain))
}

func TestLicenseRestrictionDetails(t *testing.T) {
	err := LicenseRestriction("STEP", "basic")
	if err.Details["requested_format"] != "STEP" {
		t.Errorf("requested_format = %v", err.Details["requested_format"])
	}
	if err.Details["tier"] != "basic" {
		t.Errorf("tier = %v", err.Details["tier"])
	}
}
