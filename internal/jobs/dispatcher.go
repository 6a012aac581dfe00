package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Outbox is the durable job queue written together with each new event.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]domain.Job, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration, errMsg string) error
	MarkOutboxDead(ctx context.Context, id int64, errMsg string) error
}

// Dispatcher moves due outbox jobs to a Publisher. A failed hand-off is
// retried with doubling backoff and the job is marked dead after MaxAttempts.
type Dispatcher struct {
	outbox    Outbox
	publisher Publisher
	logger    *slog.Logger

	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	Idle        time.Duration
}

// NewDispatcher creates a dispatcher with default tuning.
func NewDispatcher(outbox Outbox, publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:      outbox,
		publisher:   publisher,
		logger:      logger,
		BatchSize:   100,
		MaxAttempts: 5,
		BaseBackoff: 10 * time.Second,
		Idle:        500 * time.Millisecond,
	}
}

// Run dispatches until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.DispatchOnce(ctx)
		if err != nil {
			d.logger.Error("error dequeuing outbox", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if n == 0 {
			sleep(ctx, d.Idle)
		}
	}
}

// DispatchOnce hands off one batch of due jobs and returns how many it saw.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	jobs, err := d.outbox.DequeueOutbox(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		logger := d.logger.With("job_id", job.ID, "kind", job.Kind, "event_id", job.EventID)

		if err := d.publisher.Publish(ctx, job); err != nil {
			if job.Retries+1 >= d.MaxAttempts {
				logger.Error("job failed permanently", "attempts", job.Retries+1, "error", err)
				if markErr := d.outbox.MarkOutboxDead(ctx, job.ID, err.Error()); markErr != nil {
					logger.Error("failed to mark job dead", "error", markErr)
				}
				continue
			}
			backoff := d.Backoff(job.Retries)
			logger.Warn("job failed, retrying", "backoff", backoff, "error", err)
			if markErr := d.outbox.MarkOutboxRetry(ctx, job.ID, backoff, err.Error()); markErr != nil {
				logger.Error("failed to schedule job retry", "error", markErr)
			}
			continue
		}

		if err := d.outbox.MarkPublished(ctx, job.ID); err != nil {
			logger.Error("failed to mark job published", "error", err)
		}
	}
	return len(jobs), nil
}

// Backoff is BaseBackoff doubled per previous retry.
func (d *Dispatcher) Backoff(retries int) time.Duration {
	backoff := d.BaseBackoff
	for i := 0; i < retries; i++ {
		backoff *= 2
	}
	return backoff
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
