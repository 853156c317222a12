// Package workflow drives jobs through the content pipeline.
//
// The Dispatcher consumes work units from the broker, serializes execution
// per job with store leases, runs the registered stage executors, and applies
// the state machine's decision for every finished attempt: advance, complete,
// retry with backoff, or fail. Duplicate deliveries are absorbed by stale
// stage checks, lease acquisition, and compare-and-set transitions, in that
// order.
//
// Around the dispatcher sit the Intake (admitting new jobs and handing them
// to the broker), the Worker (the asynq server feeding the dispatcher), the
// Sweeper (reclaiming expired leases, claiming due retries, and re-enqueueing
// stalled jobs), and the Scheduler (daily content production on a cron).
package workflow
