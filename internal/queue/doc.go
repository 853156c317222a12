// Package queue persists pipeline jobs in SQLite and owns every state
// transition. Jobs move forward through a fixed stage sequence under
// compare-and-set guards, execution is serialized per job by expiring
// leases, and failed attempts are either scheduled for retry or parked
// in the failed state with the failing stage remembered. Concurrent
// writers lose CAS races with ErrConflict rather than corrupting state.
package queue
