package domain

import "errors"

// ErrReauthorizationRequired indicates the upstream authority rejected the
// stored refresh token as revoked or invalid. The athlete must re-run the
// OAuth flow; retrying is pointless until they do.
var ErrReauthorizationRequired = errors.New("athlete re-authorization required")

// ErrDuplicateEvent is returned when a non-terminal queue event already
// exists for the same (athlete, object) pair. Callers treat it as a no-op.
var ErrDuplicateEvent = errors.New("non-terminal event already exists for object")

// PermanentError marks a failure that must not consume the retry budget:
// the event moves straight to failed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker fails the event without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is non-retryable.
// Re-authorization failures are permanent per account, so they qualify too.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrReauthorizationRequired)
}
