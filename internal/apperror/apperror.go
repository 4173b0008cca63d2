package apperror

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the registration and identity
// flows distinguish. Callers branch on these via errors.Is — the
// AppError wrapper carries the human-readable part.
var (
	ErrValidation  = errors.New("validation failed")
	ErrUpload      = errors.New("upload failed")
	ErrCredential  = errors.New("credential rejected")
	ErrProvider    = errors.New("provider update failed")
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
)

type AppError struct {
	Err     error  // sentinel classifying the failure
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ValidationFailed reports a local policy violation. Fatal to a
// submission — no remote call may follow it.
func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// UploadFailed reports that the media host was unreachable or rejected
// the file. Fatal — no account is created after it.
func UploadFailed(message string) *AppError {
	return &AppError{
		Err:     ErrUpload,
		Message: message,
	}
}

// CredentialRejected reports that the identity provider refused account
// creation or authentication (duplicate email, bad secret). Fatal.
func CredentialRejected(message string) *AppError {
	return &AppError{
		Err:     ErrCredential,
		Message: message,
	}
}

// ProviderFailed reports a profile update failure after the account
// already exists. Non-fatal to registration — the principal is usable.
func ProviderFailed(message string) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: message,
	}
}

// PersistenceFailed reports that the backing-store mirror write failed
// after the account exists. Non-fatal, diagnostics only.
func PersistenceFailed(message string) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: message,
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}
