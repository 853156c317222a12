package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify stage failures. Retryable markers feed the
// pipeline's backoff path; fatal markers terminate the job immediately.
var (
	// ErrTransient covers network hiccups and provider 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrRateLimited covers provider throttling (HTTP 429).
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout covers deadline overruns on external calls.
	ErrTimeout = errors.New("timeout")
	// ErrValidation covers inputs the provider permanently rejects.
	ErrValidation = errors.New("validation error")
	// ErrRejected covers content the provider refuses on policy grounds.
	ErrRejected = errors.New("content rejected")
	// ErrQuota covers exhausted non-renewable quota with no retry path.
	ErrQuota = errors.New("quota exhausted")
	// ErrConfiguration covers missing credentials or unusable settings.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later outcome classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error should be fed into the backoff path
// rather than failing the job outright. Unclassified errors are treated as
// retryable so flaky providers get the benefit of the attempt budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrRejected),
		errors.Is(err, ErrQuota),
		errors.Is(err, ErrConfiguration):
		return false
	}
	return true
}

// Kind returns the classification label attached to a stage error, used for
// structured log fields.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrQuota):
		return "quota"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "transient"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// ClassifyHTTPStatus maps a provider HTTP status code to a sentinel marker.
// It is shared by every provider client so the pipeline never branches on
// provider-specific response shapes.
func ClassifyHTTPStatus(status int) error {
	switch {
	case status == 429:
		return ErrRateLimited
	case status == 401 || status == 403:
		return ErrConfiguration
	case status == 402:
		return ErrQuota
	case status == 400 || status == 404 || status == 422:
		return ErrValidation
	case status >= 500:
		return ErrTransient
	default:
		return ErrTransient
	}
}
