// Package pipeline holds the pure decision logic of the job state machine:
// per-stage execution policies, outcome classification, and the mapping from
// a finished attempt to the transition the queue store should apply. Nothing
// here touches the database or the broker.
package pipeline
