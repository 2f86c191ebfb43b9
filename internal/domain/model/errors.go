package model

import (
	"errors"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrChannelUnavailable   = errors.New("channel unavailable")
	ErrDecodeFailure        = errors.New("queued message could not be decoded")
	ErrThresholdFetch       = errors.New("threshold fetch failed")
	ErrScoringFailure       = errors.New("scoring failed")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrPersistenceFailure   = errors.New("persistence failed")
	ErrNotFound             = errors.New("not found")
)

// FieldError is a single rejected field. Field is the JSON path of the field.
type FieldError struct {
	Field   string `json:"loc"`
	Message string `json:"msg"`
}

// ValidationError carries every field error found for one transaction.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// HasField reports whether field was rejected.
func (e *ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}
