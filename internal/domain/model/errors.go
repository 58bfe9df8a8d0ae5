package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a rule violation. Nothing is written when a
// command fails validation.
type ValidationError struct {
	Rule   string   // short machine-readable rule name
	Detail string   // human-readable explanation
	IDs    []string // entity ids involved
}

func (e *ValidationError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Detail)
	}
	return fmt.Sprintf("validation failed (%s): %s [%s]", e.Rule, e.Detail, strings.Join(e.IDs, ", "))
}

// NewValidationError creates a validation error for the given rule.
func NewValidationError(rule, detail string, ids ...string) *ValidationError {
	return &ValidationError{Rule: rule, Detail: detail, IDs: ids}
}

// ConflictError reports a lost concurrent write. The caller must reload
// fresh state and retry; the engine never merges silently.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently, retry with fresh state", e.Entity, e.ID)
}

// NotFoundError reports an unknown id, including ids that exist but belong
// to another tenant.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
