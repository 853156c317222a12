package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AcquireLease grants the holder exclusive execution rights on a job for the
// given duration. Acquisition succeeds when the job is unleased, the existing
// lease has expired, or the same holder is re-acquiring its own lease. A live
// lease held by someone else returns ErrLeaseHeld.
func (s *Store) AcquireLease(ctx context.Context, id int64, holder string, ttl time.Duration) (*Job, error) {
	ctx = ensureContext(ctx)

	if holder == "" {
		return nil, errors.New("lease holder is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}

	now := time.Now().UTC()
	expires := now.Add(ttl).Format(time.RFC3339Nano)
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET lease_holder = ?, lease_expires_at = ?, updated_at = ?
         WHERE id = ?
           AND (lease_holder IS NULL OR lease_holder = '' OR lease_holder = ? OR lease_expires_at < ?)`,
		holder, expires, timestamp, id, holder, timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire lease for job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrLeaseHeld
	}
	return s.GetByID(ctx, id)
}

// RenewLease extends the holder's lease. Renewal fails with ErrLeaseHeld when
// the holder no longer owns the lease, which tells the worker its execution
// result will be discarded as a duplicate.
func (s *Store) RenewLease(ctx context.Context, id int64, holder string, ttl time.Duration) error {
	ctx = ensureContext(ctx)

	now := time.Now().UTC()
	expires := now.Add(ttl).Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND lease_holder = ?`,
		expires, now.Format(time.RFC3339Nano), id, holder,
	)
	if err != nil {
		return fmt.Errorf("renew lease for job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease clears the holder's lease. Releasing a lease that moved to
// another holder is a no-op, not an error.
func (s *Store) ReleaseLease(ctx context.Context, id int64, holder string) error {
	ctx = ensureContext(ctx)

	_, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND lease_holder = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id, holder,
	)
	if err != nil {
		return fmt.Errorf("release lease for job %d: %w", id, err)
	}
	return nil
}

// ReclaimExpiredLeases clears leases whose expiry has passed and returns the
// affected jobs so the caller can re-enqueue them. Jobs already in a terminal
// state only have their lease cleared.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time) ([]*Job, error) {
	ctx = ensureContext(ctx)

	cutoff := now.UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM queue_jobs
         WHERE lease_holder IS NOT NULL AND lease_expires_at < ?
         ORDER BY lease_expires_at, id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired leases: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}

	timestamp := now.UTC().Format(time.RFC3339Nano)
	var reclaimed []*Job
	for _, id := range ids {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_jobs
             SET lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE id = ? AND lease_holder IS NOT NULL AND lease_expires_at < ?`,
			timestamp, id, cutoff,
		)
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim lease for job %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return reclaimed, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}
		job, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return reclaimed, err
		}
		if job.IsTerminal() {
			continue
		}
		reclaimed = append(reclaimed, job)
	}
	return reclaimed, nil
}
