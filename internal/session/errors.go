package session

import "errors"

var (
	// ErrDuplicateKey is returned by Registry.Insert for a key already present.
	ErrDuplicateKey = errors.New("duplicate subscription key")

	// ErrAlreadyListening is returned when listen channels are attached twice.
	ErrAlreadyListening = errors.New("subscription is already listening")

	// ErrValidation classifies malformed queries, unknown operations and bad
	// variables. No session is created.
	ErrValidation = errors.New("invalid query")

	// ErrSerialization is returned when a payload cannot be represented in
	// the JSON envelope.
	ErrSerialization = errors.New("payload serialization failed")

	// ErrImmediateTimeout is returned when a completed producer does not
	// deliver its result within the immediate timeout.
	ErrImmediateTimeout = errors.New("timed out waiting for immediate result")

	// ErrClosed is returned by FetchQuery after the manager is closed.
	ErrClosed = errors.New("session manager closed")
)

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
