package services

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the services. Match them with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrReservationClosed   = errors.New("reservation already resolved the other way")
	ErrCollaboratorFailure = errors.New("content provider failure")
	ErrStorageFailure      = errors.New("storage failure")
)

// ValidationError reports one rejected field. It matches ErrInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalidField(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// IsInvalidInput reports whether the caller can fix err by correcting the request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidAmount)
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}
