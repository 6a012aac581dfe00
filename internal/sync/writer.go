package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// EventBackend stores canonical events. InsertEvent must be authoritative
// about duplicates: a conflict on (event type, external id) reports
// inserted=false together with the existing id.
type EventBackend interface {
	FindEventID(ctx context.Context, eventType domain.EventType, externalID string) (string, bool, error)
	InsertEvent(ctx context.Context, ev domain.Event, jobs []domain.JobKind) (bool, string, error)
	LogDuplicate(ctx context.Context, entry domain.DuplicateEntry) error
}

// WriteResult is the outcome of one deduplicated write.
type WriteResult struct {
	Inserted bool
	EventID  string
}

// Writer stores each logical message or meeting at most once.
type Writer struct {
	Events EventBackend

	// Precheck looks the identifier up before inserting. It saves a failed
	// insert for the common duplicate case; the insert stays authoritative.
	Precheck bool

	// LogDuplicates appends a duplicate-prevention entry for every skip.
	LogDuplicates bool

	// Source labels duplicate log entries.
	Source string

	Logger *slog.Logger
}

// WriteIfNew inserts ev unless an event with the same (type, external id)
// exists. New events get their side-pipeline jobs enqueued with the insert.
func (w *Writer) WriteIfNew(ctx context.Context, ev domain.Event) (WriteResult, error) {
	if ev.Deduplicable() && w.Precheck {
		existing, found, err := w.Events.FindEventID(ctx, ev.Type, ev.ExternalID)
		if err != nil {
			return WriteResult{}, err
		}
		if found {
			w.duplicate(ctx, ev, existing)
			return WriteResult{EventID: existing}, nil
		}
	}

	inserted, id, err := w.Events.InsertEvent(ctx, ev, JobsFor(ev))
	if err != nil {
		return WriteResult{}, fmt.Errorf("write %s %q: %w", ev.Type, ev.ExternalID, err)
	}
	if !inserted {
		w.duplicate(ctx, ev, id)
		return WriteResult{EventID: id}, nil
	}
	return WriteResult{Inserted: true, EventID: id}, nil
}

func (w *Writer) duplicate(ctx context.Context, ev domain.Event, existingID string) {
	w.Logger.Debug("duplicate skipped",
		"event_type", ev.Type, "external_id", ev.ExternalID, "existing_event_id", existingID)
	if !w.LogDuplicates {
		return
	}
	err := w.Events.LogDuplicate(ctx, domain.DuplicateEntry{
		EventType:       ev.Type,
		ExternalID:      ev.ExternalID,
		Subject:         ev.Subject,
		ExistingEventID: existingID,
		Source:          w.Source,
	})
	if err != nil {
		w.Logger.Warn("failed to log duplicate", "external_id", ev.ExternalID, "error", err)
	}
}

// JobsFor lists the side-pipeline jobs enqueued for a newly created event.
func JobsFor(ev domain.Event) []domain.JobKind {
	jobs := []domain.JobKind{domain.JobRules, domain.JobClassify}
	if ev.Type == domain.EventEmail && ev.MetaBool("has_attachments") {
		jobs = append(jobs, domain.JobAttachments)
	}
	return jobs
}
