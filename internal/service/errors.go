package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound - referenced policy or quota does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation - missing or invalid required field, operation not attempted
	ErrValidation = errors.New("invalid input")

	// ErrStoreUnavailable - infrastructure failure; callers apply their
	// fail-open/fail-closed policy, never treat it as an implicit allow
	ErrStoreUnavailable = errors.New("store unavailable")
)

// UnavailableError carries whether the affected quota is a hard limit so the
// caller can fail closed for hard limits and open for soft ones.
type UnavailableError struct {
	HardLimit bool
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
