package dto

import (
	"errors"

	"github.com/contaflow/recon-backend/internal/domain/model"
)

// APIError represents a structured error response.
// All error responses from the API use this format for consistency.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
}

// Common error codes, mirroring the engine's error taxonomy.
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeConflict      = "conflict"
	ErrCodeValidation    = "validation_error"
	ErrCodeInternalError = "internal_error"
)

// NewAPIError creates a new APIError with the given code and message.
func NewAPIError(code, message string) APIError {
	return APIError{
		Code:    code,
		Message: message,
	}
}

// BadRequestError creates a bad request error response.
func BadRequestError(message string) APIError {
	return NewAPIError(ErrCodeBadRequest, message)
}

// InternalError creates an internal server error response.
func InternalError() APIError {
	return NewAPIError(ErrCodeInternalError, "an internal error occurred")
}

// FromError maps an engine error to its API representation.
func FromError(err error) APIError {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		return APIError{Code: ErrCodeValidation, Message: ve.Error(), Rule: ve.Rule}
	}
	if model.IsConflict(err) {
		return NewAPIError(ErrCodeConflict, err.Error())
	}
	if model.IsNotFound(err) {
		return NewAPIError(ErrCodeNotFound, err.Error())
	}
	return InternalError()
}
