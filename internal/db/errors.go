package db

import "errors"

var (
	ErrNotFound            = errors.New("db: not found")
	ErrIdempotencyConflict = errors.New("db: idempotency key reused with a different request")
	ErrRunInProgress       = errors.New("db: a run is already queued or running")
	ErrStaleTransition     = errors.New("db: assessment is not in a state this run may change")
	ErrNoQueuedRun         = errors.New("db: no queued run")
	// ErrConstraint wraps CHECK violations such as an out-of-enum severity.
	ErrConstraint = errors.New("db: constraint violation")
)
