package services

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest classifies ranking requests rejected before any port is called.
var ErrInvalidRequest = errors.New("invalid ranking request")

// ValidationError names the offending field of a rejected request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRequest, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
