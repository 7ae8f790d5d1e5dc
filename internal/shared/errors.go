package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = httpx.ErrNotFound
	// ErrValidation matches every ValidationError.
	ErrValidation = httpx.ErrValidation
	// ErrScopeMissing occurs when no tenant scope was resolved for the request.
	ErrScopeMissing = fmt.Errorf("%w: tenant scope missing", httpx.ErrUnauthorized)
)

// ValidationError rejects malformed input before any aggregation runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match httpx.ErrValidation.
func (e ValidationError) Unwrap() error {
	return httpx.ErrValidation
}

// InvalidField names the rejected parameter in problem responses.
func (e ValidationError) InvalidField() string {
	return e.Field
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// ScopeViolation rejects a tenant or store mismatch at query construction.
type ScopeViolation struct {
	TenantID  int64
	Requested int64
	Allowed   int64
}

func (e ScopeViolation) Error() string {
	return fmt.Sprintf("store %d outside caller scope (tenant %d, store %d)", e.Requested, e.TenantID, e.Allowed)
}

// Unwrap lets errors.Is match httpx.ErrForbidden.
func (e ScopeViolation) Unwrap() error {
	return httpx.ErrForbidden
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var vErr ValidationError
	return errors.As(err, &vErr)
}
