package sync

import (
	"context"
	"log/slog"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// CursorBackend persists continuation tokens.
type CursorBackend interface {
	LoadCursor(ctx context.Context, accountID string, resource domain.ResourceType) (string, bool, error)
	SaveCursor(ctx context.Context, accountID string, resource domain.ResourceType, token string) error
	ClearCursor(ctx context.Context, accountID string, resource domain.ResourceType) error
}

// CursorStore wraps a CursorBackend. Get never fails: a lookup error is
// treated as an absent cursor so the run falls back to a full fetch.
type CursorStore struct {
	backend CursorBackend
	logger  *slog.Logger
}

// NewCursorStore creates a cursor store.
func NewCursorStore(backend CursorBackend, logger *slog.Logger) *CursorStore {
	return &CursorStore{backend: backend, logger: logger}
}

// Get returns the stored token for (account, resource), or "" if absent.
func (c *CursorStore) Get(ctx context.Context, accountID string, resource domain.ResourceType) string {
	token, ok, err := c.backend.LoadCursor(ctx, accountID, resource)
	if err != nil {
		c.logger.Warn("cursor lookup failed, falling back to full fetch",
			"account_id", accountID, "resource", resource, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return token
}

// Save upserts the token for (account, resource).
func (c *CursorStore) Save(ctx context.Context, accountID string, resource domain.ResourceType, token string) error {
	return c.backend.SaveCursor(ctx, accountID, resource, token)
}

// Clear deletes the token for (account, resource).
func (c *CursorStore) Clear(ctx context.Context, accountID string, resource domain.ResourceType) error {
	return c.backend.ClearCursor(ctx, accountID, resource)
}
