package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Martian-dev/mailsync/internal/domain"
)

const eventColumns = `id, connection_id, event_type, source, external_id, identity, occurred_at,
	subject, body, metadata_json, raw_json, created_at`

// FindEventID looks up a stored event by (event type, external id).
func (s *Store) FindEventID(ctx context.Context, eventType domain.EventType, externalID string) (string, bool, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, s.q(`
		SELECT id FROM events WHERE event_type = ? AND external_id = ?
	`), string(eventType), externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up event: %w", err)
	}
	return id, true, nil
}

// InsertEvent stores a canonical event and enqueues its side-pipeline jobs in
// one transaction. The unique index over (event_type, external_id) is the
// authoritative duplicate check: on conflict nothing is written, inserted is
// false and the id of the existing event is returned.
func (s *Store) InsertEvent(ctx context.Context, ev domain.Event, jobs []domain.JobKind) (inserted bool, id string, err error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return false, "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	raw := string(ev.Raw)
	if raw == "" {
		raw = "{}"
	}
	now := s.nowMS()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var storedID string
	err = tx.QueryRowContext(ctx, s.q(`
		INSERT INTO events (id, connection_id, event_type, source, external_id, identity, occurred_at,
			subject, body, metadata_json, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_type, external_id) DO NOTHING
		RETURNING id
	`), ev.ID, ev.ConnectionID, string(ev.Type), ev.Source, nullString(ev.ExternalID), string(ev.Identity),
		ev.OccurredAt.UnixMilli(), ev.Subject, ev.Body, string(metadata), raw, now).Scan(&storedID)

	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, found, findErr := s.FindEventID(ctx, ev.Type, ev.ExternalID)
		if findErr != nil {
			return false, "", findErr
		}
		if !found {
			return false, "", fmt.Errorf("insert of %s %q conflicted but no row found", ev.Type, ev.ExternalID)
		}
		return false, existing, nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to insert event: %w", err)
	}

	for _, kind := range jobs {
		job := domain.Job{Kind: kind, EventID: storedID}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO outbox (kind, event_id, connection_id, msg_id, created_at, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (msg_id) DO NOTHING
		`), string(kind), storedID, ev.ConnectionID, job.MsgID(), now, now)
		if err != nil {
			return false, "", fmt.Errorf("failed to enqueue %s job: %w", kind, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, storedID, nil
}

// GetEvent loads one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM events WHERE id = ?`), id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to load event: %w", err)
	}
	return ev, nil
}

// ListEvents returns the events of a connection, newest first. An empty event
// type matches every type.
func (s *Store) ListEvents(ctx context.Context, connectionID string, eventType domain.EventType, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE connection_id = ?`
	args := []any{connectionID}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY occurred_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LogDuplicate appends a duplicate-prevention entry.
func (s *Store) LogDuplicate(ctx context.Context, entry domain.DuplicateEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Now()
	}
	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO duplicate_log (id, event_type, external_id, subject, existing_event_id, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), string(entry.EventType), entry.ExternalID, entry.Subject, entry.ExistingEventID,
		entry.Source, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to log duplicate: %w", err)
	}
	return nil
}

// CountDuplicates returns the number of duplicate-prevention entries for an external id.
func (s *Store) CountDuplicates(ctx context.Context, eventType domain.EventType, externalID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM duplicate_log WHERE event_type = ? AND external_id = ?
	`), string(eventType), externalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicates: %w", err)
	}
	return n, nil
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		ev                    domain.Event
		eventType, identity   string
		externalID            sql.NullString
		occurredAt, createdAt int64
		metadataJSON, rawJSON string
	)
	err := row.Scan(&ev.ID, &ev.ConnectionID, &eventType, &ev.Source, &externalID, &identity, &occurredAt,
		&ev.Subject, &ev.Body, &metadataJSON, &rawJSON, &createdAt)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Type = domain.EventType(eventType)
	ev.Identity = domain.Identity(identity)
	ev.ExternalID = externalID.String
	ev.OccurredAt = fromMS(occurredAt)
	ev.CreatedAt = fromMS(createdAt)
	ev.Raw = json.RawMessage(rawJSON)
	if err := json.Unmarshal([]byte(metadataJSON), &ev.Metadata); err != nil {
		return domain.Event{}, fmt.Errorf("decode metadata: %w", err)
	}
	return ev, nil
}
