package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/mailsync/internal/domain"
)

const connectionColumns = `id, provider, display_name, status, account_email, credential_ref,
	last_sync_at, last_message_sync_at, last_calendar_sync_at, created_at, updated_at`

// CreateConnection inserts a connection. A missing id is generated.
func (s *Store) CreateConnection(ctx context.Context, c domain.Connection) (domain.Connection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.ConnectionConnected
	}
	now := s.nowMS()

	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO connections (id, provider, display_name, status, account_email, credential_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, string(c.Provider), c.DisplayName, string(c.Status), c.AccountEmail, c.CredentialRef, now, now)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("failed to insert connection: %w", err)
	}

	c.CreatedAt = fromMS(now)
	c.UpdatedAt = c.CreatedAt
	return c, nil
}

// GetConnection loads one connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (domain.Connection, error) {
	row := s.DB.QueryRowContext(ctx, s.q(`SELECT `+connectionColumns+` FROM connections WHERE id = ?`), id)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Connection{}, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("failed to load connection: %w", err)
	}
	return c, nil
}

// ListConnections returns connections, optionally filtered by status.
func (s *Store) ListConnections(ctx context.Context, status domain.ConnectionStatus) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// SetConnectionStatus updates the lifecycle status of a connection.
func (s *Store) SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	return s.updateConnection(ctx, id, `status = ?`, string(status))
}

// SetAccountEmail records the mailbox address of a connection.
func (s *Store) SetAccountEmail(ctx context.Context, id, email string) error {
	return s.updateConnection(ctx, id, `account_email = ?`, email)
}

// TouchLastSync records a successful sync of one resource.
func (s *Store) TouchLastSync(ctx context.Context, id string, resource domain.ResourceType, at time.Time) error {
	column := "last_message_sync_at"
	if resource == domain.ResourceCalendar {
		column = "last_calendar_sync_at"
	}
	ts := at.UnixMilli()
	return s.updateConnection(ctx, id, `last_sync_at = ?, `+column+` = ?`, ts, ts)
}

func (s *Store) updateConnection(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.nowMS(), id)
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE connections SET `+set+`, updated_at = ? WHERE id = ?`), args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (domain.Connection, error) {
	var (
		c                              domain.Connection
		provider, status               string
		lastSync, lastMessage, lastCal sql.NullInt64
		createdAt, updatedAt           int64
	)
	err := row.Scan(&c.ID, &provider, &c.DisplayName, &status, &c.AccountEmail, &c.CredentialRef,
		&lastSync, &lastMessage, &lastCal, &createdAt, &updatedAt)
	if err != nil {
		return domain.Connection{}, err
	}
	c.Provider = domain.ProviderName(provider)
	c.Status = domain.ConnectionStatus(status)
	c.LastSyncAt = fromNullMS(lastSync)
	c.LastMessageSyncAt = fromNullMS(lastMessage)
	c.LastCalendarSyncAt = fromNullMS(lastCal)
	c.CreatedAt = fromMS(createdAt)
	c.UpdatedAt = fromMS(updatedAt)
	return c, nil
}
