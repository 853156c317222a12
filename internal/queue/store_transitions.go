package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Transition advances a job from the expected stage to the next stage in the
// sequence, recording the artifact produced by the completed stage. The update
// is guarded by a compare-and-set on the current stage: when the job is no
// longer at expected, ErrConflict is returned and nothing changes. Artifact
// columns are append-once; an existing value is never overwritten.
func (s *Store) Transition(ctx context.Context, id int64, expected, next Stage, artifact string) (*Job, error) {
	ctx = ensureContext(ctx)

	if err := validateTransition(expected, next); err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE queue_jobs
         SET stage = ?, attempts = 0, next_retry_at = NULL, last_error = NULL, updated_at = ?`
	args := []any{next, timestamp}

	if column, ok := artifactColumn(expected); ok && artifact != "" {
		query += fmt.Sprintf(`, %s = CASE WHEN %s IS NULL OR %s = '' THEN ? ELSE %s END`, column, column, column, column)
		args = append(args, artifact)
	}

	query += ` WHERE id = ? AND stage = ?`
	args = append(args, id, expected)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transition job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrMissing(ctx, id)
	}
	return s.GetByID(ctx, id)
}

func validateTransition(expected, next Stage) error {
	if _, ok := stageSet[expected]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStage, expected)
	}
	if IsTerminal(expected) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidStage, expected)
	}
	if next == StageCancelled {
		return nil
	}
	forward, ok := NextStage(expected)
	if !ok || forward != next {
		return fmt.Errorf("%w: %s does not follow %s", ErrInvalidStage, next, expected)
	}
	return nil
}

// RecordFailure registers a failed attempt for a job at the expected stage.
// Retryable failures below the attempt ceiling schedule a retry at now+delay;
// everything else moves the job to failed while remembering the stage that
// failed. The attempt counter participates in the compare-and-set so two
// workers reporting the same attempt cannot both count it.
func (s *Store) RecordFailure(ctx context.Context, id int64, expected Stage, reason string, retryable bool, maxAttempts int, delay time.Duration) (*Job, error) {
	ctx = ensureContext(ctx)

	if !IsExecutable(expected) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, expected)
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != expected {
		return nil, ErrConflict
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	newAttempts := job.Attempts + 1
	exhausted := !retryable || newAttempts >= maxAttempts

	var (
		res  sql.Result
		qerr error
	)
	if exhausted {
		res, qerr = s.execWithRetry(
			ctx,
			`UPDATE queue_jobs
             SET stage = ?, failed_stage = ?, attempts = ?, next_retry_at = NULL,
                 last_error = ?, lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND stage = ? AND attempts = ?`,
			StageFailed, expected, newAttempts, nullableString(reason), timestamp,
			id, expected, job.Attempts,
		)
	} else {
		retryAt := now.Add(delay).Format(time.RFC3339Nano)
		res, qerr = s.execWithRetry(
			ctx,
			`UPDATE queue_jobs
             SET attempts = ?, next_retry_at = ?, last_error = ?,
                 lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND stage = ? AND attempts = ?`,
			newAttempts, retryAt, nullableString(reason), timestamp,
			id, expected, job.Attempts,
		)
	}
	if qerr != nil {
		return nil, fmt.Errorf("record failure for job %d: %w", id, qerr)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrMissing(ctx, id)
	}
	return s.GetByID(ctx, id)
}

// RequestCancel flags a job for cooperative cancellation. In-flight work
// observes the flag at its next checkpoint; jobs waiting between stages are
// cancelled by MarkCancelled before their next attempt starts.
func (s *Store) RequestCancel(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, fmt.Errorf("%w: job %d is %s", ErrInvalidStage, id, job.Stage)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.execWithRetry(
		ctx,
		`UPDATE queue_jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND stage NOT IN (?, ?, ?)`,
		timestamp, id, StageCompleted, StageFailed, StageCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("request cancel for job %d: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// MarkCancelled finalizes a cancellation request, moving the job to the
// cancelled state. The compare-and-set on the expected stage protects against
// a concurrent transition having already moved the job on.
func (s *Store) MarkCancelled(ctx context.Context, id int64, expected Stage) (*Job, error) {
	ctx = ensureContext(ctx)

	if IsTerminal(expected) {
		return nil, fmt.Errorf("%w: %s is terminal", ErrInvalidStage, expected)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET stage = ?, next_retry_at = NULL, lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND stage = ?`,
		StageCancelled, timestamp, id, expected,
	)
	if err != nil {
		return nil, fmt.Errorf("mark cancelled for job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrMissing(ctx, id)
	}
	return s.GetByID(ctx, id)
}

// RetryFailed moves a failed job back to the stage recorded when it failed,
// with a fresh attempt budget. The returned job is ready to be re-enqueued.
func (s *Store) RetryFailed(ctx context.Context, id int64) (*Job, error) {
	ctx = ensureContext(ctx)

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != StageFailed {
		return nil, fmt.Errorf("%w: job %d is %s, not failed", ErrInvalidStage, id, job.Stage)
	}
	target := job.FailedStage
	if !IsExecutable(target) {
		target = StageScripting
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET stage = ?, failed_stage = NULL, attempts = 0, next_retry_at = NULL,
             last_error = NULL, cancel_requested = 0, updated_at = ?
         WHERE id = ? AND stage = ?`,
		target, timestamp, id, StageFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("retry failed job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrMissing(ctx, id)
	}
	return s.GetByID(ctx, id)
}

// Reopen moves a failed job back to an arbitrary executable stage and clears
// the artifacts that stage and its successors produced, so the rerun rebuilds
// them instead of skipping on stale handles. This is the only sanctioned
// backward movement in the pipeline.
func (s *Store) Reopen(ctx context.Context, id int64, target Stage) (*Job, error) {
	ctx = ensureContext(ctx)

	if !IsExecutable(target) {
		return nil, fmt.Errorf("%w: cannot reopen to %q", ErrInvalidStage, target)
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != StageFailed {
		return nil, fmt.Errorf("%w: job %d is %s, not failed", ErrInvalidStage, id, job.Stage)
	}

	query := `UPDATE queue_jobs
         SET stage = ?, failed_stage = NULL, attempts = 0, next_retry_at = NULL,
             last_error = NULL, cancel_requested = 0, updated_at = ?`
	targetOrdinal := Ordinal(target)
	for _, stage := range ExecutableStages() {
		if Ordinal(stage) < targetOrdinal {
			continue
		}
		if column, ok := artifactColumn(stage); ok {
			query += `, ` + column + ` = NULL`
		}
	}
	query += ` WHERE id = ? AND stage = ?`

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx, query, target, timestamp, id, StageFailed)
	if err != nil {
		return nil, fmt.Errorf("reopen job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, s.conflictOrMissing(ctx, id)
	}
	return s.GetByID(ctx, id)
}

// DueRetries claims jobs whose retry timestamp has passed, clearing the
// timestamp so a sweep racing another sweep hands out each job once. The
// grace parameter delays claims briefly past the nominal due time so a
// delayed-delivery broker message wins the race when it is on schedule.
func (s *Store) DueRetries(ctx context.Context, now time.Time, grace time.Duration) ([]*Job, error) {
	ctx = ensureContext(ctx)

	cutoff := now.Add(-grace).UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM queue_jobs
         WHERE next_retry_at IS NOT NULL AND next_retry_at <= ?
           AND lease_holder IS NULL
         ORDER BY next_retry_at, id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	timestamp := now.UTC().Format(time.RFC3339Nano)
	var claimed []*Job
	for _, id := range ids {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_jobs SET next_retry_at = NULL, updated_at = ?
             WHERE id = ? AND next_retry_at IS NOT NULL`,
			timestamp, id,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim retry for job %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}
		job, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// StalledJobs returns jobs that are neither leased nor waiting on a retry and
// have not been touched since the cutoff. These are jobs whose broker message
// was lost, typically by a crash between the state write and the enqueue.
// Claimed jobs get their updated_at refreshed so repeated sweeps back off.
func (s *Store) StalledJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM queue_jobs
         WHERE stage IN (?, ?, ?, ?, ?, ?)
           AND lease_holder IS NULL
           AND next_retry_at IS NULL
           AND updated_at <= ?
         ORDER BY updated_at, id`,
		StageQueued, StageScripting, StageVoiceSynthesis, StageAssembly,
		StageThumbnailing, StagePublishing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stalled jobs: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	var stalled []*Job
	for _, id := range ids {
		if _, err := s.execWithRetry(
			ctx,
			`UPDATE queue_jobs SET updated_at = ? WHERE id = ?`,
			timestamp, id,
		); err != nil {
			return stalled, fmt.Errorf("touch stalled job %d: %w", id, err)
		}
		job, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return stalled, err
		}
		stalled = append(stalled, job)
	}
	return stalled, nil
}

func (s *Store) conflictOrMissing(ctx context.Context, id int64) error {
	if _, err := s.GetByID(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}

func collectIDs(rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
