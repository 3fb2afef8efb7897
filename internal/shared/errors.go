package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or unverifiable input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation the current state forbids.
	ErrInvalidState = errors.New("invalid state")
	// ErrConcurrencyConflict indicates a guarded change lost a race and may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// IsBusinessError reports whether err belongs to the recoverable taxonomy.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConcurrencyConflict)
}
