package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks access to a resource owned by someone else.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQuotaExceeded is returned when a user has no generations left in the current window.
	ErrQuotaExceeded = errors.New("daily generation limit reached")
	// ErrConflict marks a unique constraint hit, e.g. an email that is already registered.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState is returned for transitions a document's status does not allow.
	ErrInvalidState = errors.New("invalid state")
)

// permanentError wraps a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
