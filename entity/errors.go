package entity

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the lifecycle write paths. Callers discriminate with
// errors.Is.
var (
	// ErrInvalidIdentifier marks an identifier that cannot be mapped onto
	// the type's primary-key columns (empty on save, wrong arity for a
	// composite key).
	ErrInvalidIdentifier = errors.New("entity: invalid identifier")

	// ErrNotAuthorized marks a save rejected by the authorizer.
	ErrNotAuthorized = errors.New("entity: not authorized")

	// ErrReadOnlyType marks a write against a type declared read-only.
	ErrReadOnlyType = errors.New("entity: type is read-only")

	// ErrDeleted marks a write against an entity already deleted in this
	// process.
	ErrDeleted = errors.New("entity: entity is deleted")
)

// ValidationError wraps a validation predicate failure. The underlying
// error carries the field-level detail.
type ValidationError struct {
	Type string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("entity: %s validation failed: %v", e.Type, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
