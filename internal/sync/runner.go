package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/mailsync/internal/canonical"
	"github.com/Martian-dev/mailsync/internal/domain"
)

// tokenInvalidator is implemented by token providers that cache tokens.
type tokenInvalidator interface {
	Invalidate(connectionID string)
}

// CanonicalizeFunc maps a raw record to a canonical event.
type CanonicalizeFunc func(raw domain.RawRecord, eventType domain.EventType) (domain.Event, error)

// Runner orchestrates one sync of one connection: token, fetch per resource,
// canonicalize, deduplicated write, cursor advance, run finalization.
type Runner struct {
	Connections  ConnectionStore
	Cursors      *CursorStore
	Writer       *Writer
	Ledger       *Ledger
	Tokens       TokenProvider
	Fetchers     map[domain.ProviderName]Fetcher
	Canonicalize CanonicalizeFunc
	Logger       *slog.Logger
	Now          func() time.Time
}

// SyncConnection runs one sync for conn. A connection that is not configured
// is skipped with domain.ErrNotConfigured and no run is recorded. Once a run
// has begun it is always finalized as success or failed, including on panic.
func (r *Runner) SyncConnection(ctx context.Context, conn domain.Connection) (runID string, err error) {
	logger := r.Logger.With("connection_id", conn.ID, "provider", conn.Provider)

	fetcher, ok := r.Fetchers[conn.Provider]
	if !conn.Configured() || !ok {
		logger.Warn("connection not configured, skipping")
		return "", fmt.Errorf("connection %s: %w", conn.ID, domain.ErrNotConfigured)
	}

	runID, err = r.Ledger.Begin(ctx, conn.ID)
	if err != nil {
		return "", err
	}
	logger = logger.With("run_id", runID)
	logger.Info("sync started")
	started := r.now()

	var counts domain.Counts
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync panicked: %v", p)
		}
		r.finalize(context.WithoutCancel(ctx), logger, runID, counts, err, started)
	}()

	token, err := r.Tokens.EnsureValidToken(ctx, conn.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			if statusErr := r.Connections.SetConnectionStatus(ctx, conn.ID, domain.ConnectionError); statusErr != nil {
				logger.Error("failed to mark connection as errored", "error", statusErr)
			}
		}
		return runID, fmt.Errorf("obtain access token: %w", err)
	}

	results := make([]domain.Counts, len(domain.Resources))
	errs := make([]error, len(domain.Resources))
	var g errgroup.Group
	for i, resource := range domain.Resources {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					errs[i] = fmt.Errorf("%s sync panicked: %v", resource, p)
				}
			}()
			results[i], errs[i] = r.syncResource(ctx, logger, conn, fetcher, token, resource)
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range results {
		counts = counts.Add(c)
	}
	return runID, errors.Join(errs...)
}

func (r *Runner) syncResource(ctx context.Context, logger *slog.Logger, conn domain.Connection,
	fetcher Fetcher, token string, resource domain.ResourceType) (domain.Counts, error) {
	var counts domain.Counts
	logger = logger.With("resource", resource)

	cursor := r.Cursors.Get(ctx, conn.ID, resource)
	page, err := fetcher.FetchPage(ctx, token, conn.AccountEmail, resource, cursor)
	if err != nil {
		if errors.Is(err, domain.ErrCursorInvalid) {
			logger.Warn("cursor rejected by provider, clearing")
			if clearErr := r.Cursors.Clear(ctx, conn.ID, resource); clearErr != nil {
				logger.Error("failed to clear cursor", "error", clearErr)
			}
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			if inv, ok := r.Tokens.(tokenInvalidator); ok {
				logger.Warn("provider rejected access token, dropping cached token")
				inv.Invalidate(conn.ID)
			}
		}
		return counts, fmt.Errorf("fetch %s: %w", resource, err)
	}
	logger.Debug("fetched records", "count", len(page.Records), "resumed", cursor != "")

	canonicalize := r.Canonicalize
	if canonicalize == nil {
		canonicalize = canonical.ToCanonicalEvent
	}

	var firstErr error
	for _, raw := range page.Records {
		if raw.Removed {
			counts.Skipped++
			continue
		}
		counts.Processed++

		ev, err := canonicalize(raw, resource.EventType())
		if err == nil {
			ev.ConnectionID = conn.ID
			var res WriteResult
			res, err = r.Writer.WriteIfNew(ctx, ev)
			if err == nil {
				if res.Inserted {
					counts.Created++
				} else {
					counts.Duplicates++
				}
				continue
			}
		}

		counts.Failed++
		if firstErr == nil {
			firstErr = err
		}
		logger.Warn("record failed", "provider_id", raw.ProviderID, "error", err)
	}

	if counts.Failed > 0 {
		return counts, fmt.Errorf("%s: %d of %d records failed, cursor not advanced: %w",
			resource, counts.Failed, counts.Processed, firstErr)
	}

	if next := page.Cursor(); next != "" {
		if err := r.Cursors.Save(ctx, conn.ID, resource, next); err != nil {
			return counts, fmt.Errorf("save %s cursor: %w", resource, err)
		}
	} else if cursor != "" {
		if err := r.Cursors.Clear(ctx, conn.ID, resource); err != nil {
			return counts, fmt.Errorf("clear %s cursor: %w", resource, err)
		}
	}

	if err := r.Connections.TouchLastSync(ctx, conn.ID, resource, r.now()); err != nil {
		logger.Warn("failed to stamp last sync", "error", err)
	}
	logger.Info("resource synced", "created", counts.Created, "duplicates", counts.Duplicates, "skipped", counts.Skipped)
	return counts, nil
}

func (r *Runner) finalize(ctx context.Context, logger *slog.Logger, runID string, counts domain.Counts, runErr error, started time.Time) {
	elapsed := r.now().Sub(started)
	if runErr != nil {
		logger.Error("sync failed", "error", runErr, "failed", counts.Failed, "duration", elapsed)
		if err := r.Ledger.Fail(ctx, runID, counts, runErr.Error()); err != nil {
			logger.Error("failed to record run failure", "error", err)
		}
		return
	}
	logger.Info("sync completed", "created", counts.Created, "duplicates", counts.Duplicates,
		"processed", counts.Processed, "duration", elapsed)
	if err := r.Ledger.Complete(ctx, runID, counts); err != nil {
		logger.Error("failed to record run completion", "error", err)
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
