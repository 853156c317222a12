// Package services defines the shared failure taxonomy and context plumbing
// used by every provider client.
//
// Stage executors wrap provider errors with one of the sentinel markers
// (ErrTransient, ErrRateLimited, ErrTimeout, ErrValidation, ErrRejected,
// ErrQuota, ErrConfiguration) via Wrap; the dispatcher then classifies the
// failure with Retryable and Kind instead of inspecting provider-specific
// response shapes. Context helpers carry job ID, stage, and correlation ID so
// log lines stay consistent across components.
package services
