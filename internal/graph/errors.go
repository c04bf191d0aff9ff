package graph

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the provider reports the resource absent.
// Delete and renew callers treat it as already-resolved (idempotent success
// for delete, recreate trigger for renew).
var ErrNotFound = errors.New("graph: resource not found")

// AuthError indicates a credential or token failure. Fatal: surfaced
// immediately, never silently retried.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("graph: authentication failed (status %d): %s", e.Status, e.Detail)
}

// PermissionError indicates the provider denied the requested scope.
// Surfaced to the caller without automatic retry.
type PermissionError struct {
	Status int
	Detail string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("graph: permission denied (status %d): %s", e.Status, e.Detail)
}

// TransientError indicates a timeout or 5xx-class failure. Retried only by
// the next scheduled cycle, never inline.
type TransientError struct {
	Status int
	Detail string
	Cause  error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("graph: transient failure: %v", e.Cause)
	}
	return fmt.Sprintf("graph: transient failure (status %d): %s", e.Status, e.Detail)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// IsAuth reports whether err is a credential/token failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsPermission reports whether err is a scope denial.
func IsPermission(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsTransient reports whether err is worth retrying on a later cycle.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the remote resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
