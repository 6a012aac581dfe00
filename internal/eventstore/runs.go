package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

const runColumns = `id, connection_id, status, started_at, finished_at, items_processed, items_created,
	items_updated, items_duplicate, items_failed, error_message`

// InsertRun records the start of an ingestion run.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO ingestion_runs (id, connection_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`), run.ID, run.ConnectionID, string(run.Status), run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun finalizes a running run. A run that is not in the running state is
// left untouched and ErrNotFound is returned.
func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus, counts domain.Counts, errMsg string, finishedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, s.q(`
		UPDATE ingestion_runs
		SET status = ?,
		    finished_at = ?,
		    items_processed = ?,
		    items_created = ?,
		    items_updated = ?,
		    items_duplicate = ?,
		    items_failed = ?,
		    error_message = ?
		WHERE id = ? AND status = ?
	`), string(status), finishedAt.UnixMilli(), counts.Processed, counts.Created, counts.Updated,
		counts.Duplicates, counts.Failed, nullString(errMsg), runID, string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("running run %s: %w", runID, domain.ErrNotFound)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM ingestion_runs WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs of a connection, newest first.
func (s *Store) ListRuns(ctx context.Context, connectionID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT `+runColumns+` FROM ingestion_runs
		WHERE connection_id = ?
		ORDER BY started_at DESC, id
		LIMIT ?
	`), connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run        domain.Run
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
		errMsg     sql.NullString
	)
	err := row.Scan(&run.ID, &run.ConnectionID, &status, &startedAt, &finishedAt,
		&run.Counts.Processed, &run.Counts.Created, &run.Counts.Updated, &run.Counts.Duplicates,
		&run.Counts.Failed, &errMsg)
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt = fromMS(startedAt)
	run.FinishedAt = fromNullMS(finishedAt)
	run.Error = errMsg.String
	return run, nil
}
