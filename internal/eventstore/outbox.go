package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// DequeueOutbox fetches jobs that are due and not yet published or dead.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT id, kind, event_id, connection_id, retries, created_at
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`), s.nowMS(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var (
			job       domain.Job
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&job.ID, &kind, &job.EventID, &job.ConnectionID, &job.Retries, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		job.Kind = domain.JobKind(kind)
		job.CreatedAt = fromMS(createdAt)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkPublished marks an outbox job as handed off.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		UPDATE outbox SET published_at = ? WHERE id = ?
	`), s.nowMS(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry count and schedules the next attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?,
		    last_error = ?
		WHERE id = ?
	`), s.Now().Add(backoff).UnixMilli(), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}
	return nil
}

// MarkOutboxDead stops retrying a job.
func (s *Store) MarkOutboxDead(ctx context.Context, id int64, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		UPDATE outbox SET dead_at = ?, last_error = ? WHERE id = ?
	`), s.nowMS(), nullString(errMsg), id)
	if err != nil {
		return fmt.Errorf("failed to mark dead: %w", err)
	}
	return nil
}

// OutboxStats counts pending, published and dead jobs.
type OutboxStats struct {
	Pending   int
	Published int
	Dead      int
}

// OutboxStats summarizes the outbox.
func (s *Store) OutboxStats(ctx context.Context) (OutboxStats, error) {
	var st OutboxStats
	var pending, published, dead sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN published_at IS NULL AND dead_at IS NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN published_at IS NOT NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN dead_at IS NOT NULL THEN 1 ELSE 0 END)
		FROM outbox
	`).Scan(&pending, &published, &dead)
	if err != nil {
		return st, fmt.Errorf("failed to count outbox: %w", err)
	}
	st.Pending = int(pending.Int64)
	st.Published = int(published.Int64)
	st.Dead = int(dead.Int64)
	return st, nil
}
