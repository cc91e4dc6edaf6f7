package order

import "errors"

var (
	// ErrInvalidTransition means the requested status is not in the
	// successor set of the order's current status. Client error, never
	// retried.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrencyConflict means another writer advanced the order since
	// it was read. Callers re-read and retry a bounded number of times.
	ErrConcurrencyConflict = errors.New("order version conflict")

	ErrNotFound = errors.New("order not found")
)
