package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/replica/internal/model"
)

// ErrStopped is returned by calls made after the event loop has shut down.
var ErrStopped = errors.New("engine stopped")

// Error is every failure an operation can surface.
//
// Classes and their effect on the store:
//   - VALIDATION, CONCURRENT_MUTATION: rejected before any store write
//   - REMOTE, CANCELLED, TIMEOUT: the optimistic write was rolled back
//   - IDENTITY_CONFLICT: the provisional record is quarantined for an operator
//   - STUCK_OPERATION: non-fatal alert; the record stays pending
type Error struct {
	// Code identifies the error class.
	Code ErrorCode

	// Message is a human-readable description. For REMOTE errors it carries
	// the server's message.
	Message string

	// OpID identifies the operation, when there is one.
	OpID string

	// Holder is the operation that already owns the record, for
	// CONCURRENT_MUTATION.
	Holder string

	// Identity is the record the operation addressed.
	Identity model.Identity

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "VALIDATION"
	ErrCodeRemote             ErrorCode = "REMOTE"
	ErrCodeConcurrentMutation ErrorCode = "CONCURRENT_MUTATION"
	ErrCodeIdentityConflict   ErrorCode = "IDENTITY_CONFLICT"
	ErrCodeStuckOperation     ErrorCode = "STUCK_OPERATION"
	ErrCodeCancelled          ErrorCode = "CANCELLED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if !e.Identity.IsZero() {
		return fmt.Sprintf("%s: %s (identity=%s)", e.Code, e.Message, e.Identity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsRemote reports whether err is a server rejection.
func IsRemote(err error) bool { return hasCode(err, ErrCodeRemote) }

// IsConcurrentMutation reports whether err rejected a second in-flight
// operation on one identity.
func IsConcurrentMutation(err error) bool { return hasCode(err, ErrCodeConcurrentMutation) }

// IsIdentityConflict reports whether err is an identity conflict.
func IsIdentityConflict(err error) bool { return hasCode(err, ErrCodeIdentityConflict) }

// IsStuck reports whether err is a stuck-operation warning.
func IsStuck(err error) bool { return hasCode(err, ErrCodeStuckOperation) }

// IsCancelled reports whether err came from a caller cancellation.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

// IsTimeout reports whether err came from the operation timeout.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// RolledBack reports whether err is one of the classes that roll back an
// optimistic write.
func RolledBack(err error) bool {
	return IsRemote(err) || IsCancelled(err) || IsTimeout(err)
}

func newValidationError(id model.Identity, cause error, format string, args ...any) *Error {
	return &Error{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf(format, args...),
		Identity: id,
		Err:      cause,
	}
}

func newConcurrentMutationError(id model.Identity, holder string) *Error {
	return &Error{
		Code:     ErrCodeConcurrentMutation,
		Message:  "another operation is in flight for this record",
		Identity: id,
		Holder:   holder,
	}
}
