package domain

import "errors"

// Sentinel errors shared across the sync pipeline. Check with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates no valid credential could be produced for a connection.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCursorInvalid indicates the provider no longer recognizes a stored
	// continuation token. The caller clears the cursor so the next run falls
	// back to a windowed fetch.
	ErrCursorInvalid = errors.New("cursor invalid")

	// ErrNotConfigured indicates a connection lacks what a sync needs (account, provider).
	ErrNotConfigured = errors.New("connection not configured")

	// ErrSyncInProgress is returned when a sync for the same scope is already running
	// in this process.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConnectionInactive is returned when a manual sync targets a connection
	// that is disconnected or in error status.
	ErrConnectionInactive = errors.New("connection is not active")

	// ErrLeaseHeld is returned when another worker holds the lease for a scope.
	ErrLeaseHeld = errors.New("lease held by another worker")
)
