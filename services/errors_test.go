package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeInternal,
				Message: "database error",
				Err:     errors.New("connection reset"),
			},
			wantMsg: "internal: database error (connection reset)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	assert.Equal(t, baseErr, errors.Unwrap(domainErr))
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same error type", NewDomainError(ErrorTypeNotFound, "not found", nil), ErrRequestNotFound, true},
		{"different error type", NewDomainError(ErrorTypeValidation, "validation", nil), ErrRequestNotFound, false},
		{"wrapped with fmt", fmt.Errorf("handler: %w", ErrEmptyPrompt), ErrInvalidInput, true},
		{"plain error target", ErrInternal, errors.New("internal"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := ErrRateLimitExceeded.WithDetail("retry_after", 30).WithDetail("window", "minute")

	assert.Equal(t, 30, err.Details["retry_after"])
	assert.Equal(t, "minute", err.Details["window"])
	assert.Empty(t, ErrRateLimitExceeded.Details, "shared error must not be mutated")
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))
}

func TestTypeCheckers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", ErrRequestNotFound, IsNotFoundError},
		{"validation", ErrEmptyMessages, IsValidationError},
		{"unauthorized", ErrInvalidToken, IsUnauthorizedError},
		{"rate limit", ErrRateLimitExceeded, IsRateLimitError},
		{"conflict", NewDomainError(ErrorTypeConflict, "duplicate", nil), IsConflictError},
		{"internal", ErrDatabaseError, IsInternalError},
		{"external", NewDomainError(ErrorTypeExternal, "upstream failed", nil), IsExternalError},
		{"unavailable", ErrCircuitOpen, IsUnavailableError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestGetErrorTypeAndDetails(t *testing.T) {
	err := ErrInvalidInput.Wrap(errors.New("zero count")).WithDetail("field", "limits")

	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
	assert.Equal(t, "limits", GetErrorDetails(err)["field"])
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("boom")

	internal := WrapInternal("failed to load usage", base)
	require.True(t, IsInternalError(internal))
	assert.ErrorIs(t, internal, base)

	db := ErrDatabaseError.Wrap(base)
	assert.True(t, errors.Is(db, ErrDatabaseError))
	assert.ErrorIs(t, db, base)
	assert.Equal(t, "internal: database error (boom)", db.Error())
	assert.Nil(t, ErrDatabaseError.Err, "shared error must not be mutated")
}
