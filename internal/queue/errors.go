package queue

import "errors"

var (
	// ErrNotFound indicates no job exists for the requested identifier.
	ErrNotFound = errors.New("job not found")
	// ErrConflict indicates an optimistic-concurrency violation: the job was
	// no longer at the expected stage when a transition was attempted. Callers
	// treat this as a duplicate-delivery signal, never as a job failure.
	ErrConflict = errors.New("stage conflict")
	// ErrLeaseHeld indicates another worker holds an unexpired lease on the
	// job. Expected contention, handled by delayed re-enqueue.
	ErrLeaseHeld = errors.New("lease held")
	// ErrInvalidStage indicates a transition target outside the legal set.
	ErrInvalidStage = errors.New("invalid stage")
)
