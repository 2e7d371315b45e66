package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoRecoveryToken is returned when recovery is attempted before a
	// token was requested via SendRecoveryToken.
	ErrNoRecoveryToken = errors.New("no recovery token generated")

	// ErrRecoveryTokenMismatch is returned when the supplied recovery token
	// does not match the mailed one.
	ErrRecoveryTokenMismatch = errors.New("recovery token mismatch")

	// ErrRecoveryCodeInvalid is returned when the recovery payload cannot be
	// decrypted with the key derived from the supplied code.
	ErrRecoveryCodeInvalid = errors.New("recovery code invalid")

	ErrAlreadyRegistered = errors.New("already registered with auth plugin")
	ErrNotRegistered     = errors.New("not registered with auth plugin")
	ErrNotAuthenticated  = errors.New("not authenticated")
)

// NotFoundError carries the id a lookup failed to resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PermissionDeniedError is returned for administrative mutations attempted
// without the required permission.
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission %q denied", e.Permission)
}

// InvalidAuthDataError is returned when the number of successfully
// authenticated factors stays below the security class threshold. It reports
// counts only, never which factor failed.
type InvalidAuthDataError struct {
	Counted  int
	Required int
}

func (e *InvalidAuthDataError) Error() string {
	return fmt.Sprintf("insufficient authentication: %d of %d required factors", e.Counted, e.Required)
}

// TamperError signals a MAC mismatch on stored key material. Callers must
// treat it as a security event, not a validation failure.
type TamperError struct {
	Subject  string
	UserID   uuid.UUID
	PluginID string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("integrity check failed on %s for user %s plugin %s", e.Subject, e.UserID, e.PluginID)
}

// ClassInUseError is returned when deleting a security class that secrets
// still reference.
type ClassInUseError struct {
	ClassID     uuid.UUID
	SecretCount int
}

func (e *ClassInUseError) Error() string {
	return fmt.Sprintf("security class %s still referenced by %d secrets", e.ClassID, e.SecretCount)
}

// FactorCountError is returned when requiredFactors would exceed the number
// of associated auth plugins.
type FactorCountError struct {
	Required int
	Plugins  int
}

func (e *FactorCountError) Error() string {
	return fmt.Sprintf("required factors %d exceeds associated plugin count %d", e.Required, e.Plugins)
}
