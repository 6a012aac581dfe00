package sync

import (
	"context"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Page is the accumulated result of one fetch for a resource.
type Page struct {
	Records []domain.RawRecord

	// NextCursor is the provider's delta/sync token issued on the final page.
	NextCursor string

	// Continuation is the pending next-page pointer when the page cap was hit
	// before the provider issued a delta token.
	Continuation string
}

// Cursor returns the token to persist after a fully processed page, or "" when
// the next run must fall back to a windowed fetch.
func (p Page) Cursor() string {
	if p.NextCursor != "" {
		return p.NextCursor
	}
	return p.Continuation
}

// Fetcher retrieves raw provider records for one resource of one account.
// An empty cursor means an initial fetch bounded by the lookback window.
// Fetchers return domain.ErrCursorInvalid when the provider rejects cursor.
type Fetcher interface {
	FetchPage(ctx context.Context, accessToken, account string, resource domain.ResourceType, cursor string) (Page, error)
}

// TokenProvider produces a valid access token for a connection, refreshing
// credentials if needed. It fails with domain.ErrUnauthorized when no valid
// credential can be produced.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, connectionID string) (string, error)
}

// ConnectionStore is the part of the datastore the runner reads connections from.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (domain.Connection, error)
	ListConnections(ctx context.Context, status domain.ConnectionStatus) ([]domain.Connection, error)
	SetConnectionStatus(ctx context.Context, id string, status domain.ConnectionStatus) error
	TouchLastSync(ctx context.Context, id string, resource domain.ResourceType, at time.Time) error
}

// LeaseStore coordinates runs across worker processes.
type LeaseStore interface {
	AcquireLease(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, scope, holder string) error
}
