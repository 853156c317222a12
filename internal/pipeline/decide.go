package pipeline

import (
	"strings"
	"time"

	"dramapipe/internal/queue"
	"dramapipe/internal/services"
)

// Outcome is the result of one stage execution attempt.
type Outcome struct {
	Artifact string
	Err      error
}

// Succeeded builds a successful outcome carrying the produced artifact handle.
func Succeeded(artifact string) Outcome {
	return Outcome{Artifact: artifact}
}

// Failed builds a failed outcome. Whether it is retried depends on the
// error's classification and the remaining attempt budget.
func Failed(err error) Outcome {
	return Outcome{Err: err}
}

// Action enumerates what the dispatcher does with a finished attempt.
type Action int

const (
	// ActionAdvance moves the job to the next stage and enqueues it.
	ActionAdvance Action = iota
	// ActionComplete moves the job to the completed state.
	ActionComplete
	// ActionRetry keeps the job at its stage and schedules another attempt.
	ActionRetry
	// ActionFail parks the job in the failed state.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionComplete:
		return "complete"
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decision is the state-machine verdict for a finished attempt.
type Decision struct {
	Action   Action
	Next     queue.Stage
	Delay    time.Duration
	Reason   string
	Artifact string
}

// Decide maps an execution outcome to the transition the store should apply.
// attempts counts failures already recorded for the job at this stage, so the
// attempt being decided is attempts+1. The decision is pure; the dispatcher
// owns applying it and absorbing CAS conflicts.
func Decide(stage queue.Stage, attempts int, outcome Outcome, desc Descriptor) Decision {
	if outcome.Err == nil {
		next, ok := queue.NextStage(stage)
		if !ok || next == queue.StageCompleted {
			return Decision{Action: ActionComplete, Next: queue.StageCompleted, Artifact: outcome.Artifact}
		}
		return Decision{Action: ActionAdvance, Next: next, Artifact: outcome.Artifact}
	}

	reason := failureReason(outcome.Err)
	if services.Retryable(outcome.Err) && attempts+1 < desc.MaxAttempts {
		return Decision{
			Action: ActionRetry,
			Next:   stage,
			Delay:  Backoff(desc.BackoffBase, desc.BackoffCap, attempts),
			Reason: reason,
		}
	}
	return Decision{Action: ActionFail, Next: queue.StageFailed, Reason: reason}
}

func failureReason(err error) string {
	return strings.TrimSpace(err.Error())
}
