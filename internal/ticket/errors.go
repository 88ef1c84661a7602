package ticket

import "errors"

var (
	// ErrInvalidInput means a ticket is missing fields a stage requires.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means the ticket id is absent from the store.
	ErrNotFound = errors.New("ticket not found")

	// ErrServiceUnavailable means an external dependency was unreachable, erred or timed out.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMalformedClassification means a classification response failed schema validation.
	ErrMalformedClassification = errors.New("malformed classification")

	// ErrPersistenceConflict means an update matched zero tickets.
	ErrPersistenceConflict = errors.New("persistence conflict")
)
