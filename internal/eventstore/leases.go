package eventstore

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the lease for scope if it is free, expired, or already
// held by holder. It reports whether holder now owns the lease.
func (s *Store) AcquireLease(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error) {
	now := s.Now()
	res, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO sync_leases (scope, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE sync_leases.expires_at < ? OR sync_leases.holder = excluded.holder
	`), scope, holder, now.UnixMilli(), now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return n == 1, nil
}

// RenewLease extends a lease still held by holder.
func (s *Store) RenewLease(ctx context.Context, scope, holder string, ttl time.Duration) (bool, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`
		UPDATE sync_leases SET expires_at = ? WHERE scope = ? AND holder = ?
	`), s.Now().Add(ttl).UnixMilli(), scope, holder)
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease drops a lease held by holder.
func (s *Store) ReleaseLease(ctx context.Context, scope, holder string) error {
	_, err := s.DB.ExecContext(ctx, s.q(`
		DELETE FROM sync_leases WHERE scope = ? AND holder = ?
	`), scope, holder)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
