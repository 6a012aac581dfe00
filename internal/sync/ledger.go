package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// RunBackend persists ingestion runs.
type RunBackend interface {
	InsertRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, counts domain.Counts, errMsg string, finishedAt time.Time) error
}

// Ledger records the start and outcome of every sync attempt.
type Ledger struct {
	Runs RunBackend
	Now  func() time.Time
}

// Begin inserts a running row and returns its id.
func (l *Ledger) Begin(ctx context.Context, connectionID string) (string, error) {
	run := domain.Run{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Status:       domain.RunRunning,
		StartedAt:    l.now(),
	}
	if err := l.Runs.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return run.ID, nil
}

// Complete marks the run successful with its counts.
func (l *Ledger) Complete(ctx context.Context, runID string, counts domain.Counts) error {
	return l.Runs.FinishRun(ctx, runID, domain.RunSuccess, counts, "", l.now())
}

// Fail marks the run failed with the counts gathered so far.
func (l *Ledger) Fail(ctx context.Context, runID string, counts domain.Counts, message string) error {
	return l.Runs.FinishRun(ctx, runID, domain.RunFailed, counts, message, l.now())
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}
