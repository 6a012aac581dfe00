package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// LoadCursor loads the continuation token for an (account, resource) pair.
// The boolean is false when no cursor row exists.
func (s *Store) LoadCursor(ctx context.Context, accountID string, resource domain.ResourceType) (string, bool, error) {
	var token sql.NullString
	err := s.DB.QueryRowContext(ctx, s.q(`
		SELECT token FROM sync_cursors WHERE account_id = ? AND resource_type = ?
	`), accountID, string(resource)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load cursor: %w", err)
	}
	if !token.Valid || token.String == "" {
		return "", false, nil
	}
	return token.String, true, nil
}

// SaveCursor upserts the continuation token and stamps the last-sync time.
func (s *Store) SaveCursor(ctx context.Context, accountID string, resource domain.ResourceType, token string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO sync_cursors (account_id, resource_type, token, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, resource_type) DO UPDATE SET
			token = excluded.token,
			last_synced_at = excluded.last_synced_at
	`), accountID, string(resource), token, s.nowMS())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// ClearCursor deletes the cursor row, forcing a windowed fetch next time.
func (s *Store) ClearCursor(ctx context.Context, accountID string, resource domain.ResourceType) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		DELETE FROM sync_cursors WHERE account_id = ? AND resource_type = ?
	`), accountID, string(resource))
	if err != nil {
		return fmt.Errorf("failed to clear cursor: %w", err)
	}
	return nil
}
