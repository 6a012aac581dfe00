package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// ManagerConfig tunes scheduling and cross-process coordination.
type ManagerConfig struct {
	Interval time.Duration
	WorkerID string
	LeaseTTL time.Duration
}

// Manager schedules sync runs: a periodic cycle over every connected account
// plus on-demand triggers for a single connection. A run for one connection
// holds an in-process slot and a datastore lease, so at most one run per
// connection is in flight across all worker processes.
type Manager struct {
	runner      *Runner
	connections ConnectionStore
	leases      LeaseStore
	cfg         ManagerConfig
	logger      *slog.Logger

	cycleRunning atomic.Bool
	runners      map[string]context.CancelFunc
	runnersMutex sync.RWMutex
	wg           sync.WaitGroup
	baseCtx      context.Context
	stop         context.CancelFunc
}

// NewManager creates a sync manager.
func NewManager(runner *Runner, connections ConnectionStore, leases LeaseStore, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		runner:      runner,
		connections: connections,
		leases:      leases,
		cfg:         cfg,
		logger:      logger,
		runners:     make(map[string]context.CancelFunc),
		baseCtx:     baseCtx,
		stop:        stop,
	}
}

// Start runs a cycle immediately and then on every interval tick until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	stopWatch := context.AfterFunc(m.baseCtx, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer stopWatch()
		defer cancel()
		m.tick(ctx)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

func (m *Manager) tick(ctx context.Context) {
	if err := m.RunCycle(ctx); err != nil && !errors.Is(err, domain.ErrSyncInProgress) {
		m.logger.Error("sync cycle failed", "error", err)
	}
}

// RunCycle syncs every connected account one after another. It returns
// domain.ErrSyncInProgress without doing anything while a previous cycle is
// still running.
func (m *Manager) RunCycle(ctx context.Context) error {
	if !m.cycleRunning.CompareAndSwap(false, true) {
		m.logger.Warn("previous sync cycle still running, skipping tick")
		return domain.ErrSyncInProgress
	}
	defer m.cycleRunning.Store(false)

	conns, err := m.connections.ListConnections(ctx, domain.ConnectionConnected)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	m.logger.Info("sync cycle started", "connections", len(conns))

	for _, conn := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.syncOne(ctx, conn); err != nil {
			switch {
			case errors.Is(err, domain.ErrSyncInProgress), errors.Is(err, domain.ErrLeaseHeld):
				m.logger.Info("connection busy, skipping", "connection_id", conn.ID, "reason", err)
			case errors.Is(err, domain.ErrNotConfigured):
				// already logged by the runner
			default:
				m.logger.Debug("connection sync ended with error", "connection_id", conn.ID, "error", err)
			}
		}
	}
	return nil
}

// SyncNow runs one connection synchronously and returns the run id.
func (m *Manager) SyncNow(ctx context.Context, connectionID string) (string, error) {
	conn, err := m.activeConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}
	return m.syncOne(ctx, conn)
}

// Trigger starts a run for one connection in the background and returns
// immediately. It fails with domain.ErrNotFound for an unknown connection,
// domain.ErrConnectionInactive for one that is not connected and
// domain.ErrSyncInProgress when a run for it is already in flight here.
func (m *Manager) Trigger(ctx context.Context, connectionID string) error {
	conn, err := m.activeConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if m.IsRunning(connectionID) {
		return domain.ErrSyncInProgress
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.syncOne(m.baseCtx, conn); err != nil {
			m.logger.Warn("triggered sync ended with error", "connection_id", connectionID, "error", err)
		}
	}()
	return nil
}

// activeConnection loads a connection the scheduled cycle would also pick up.
func (m *Manager) activeConnection(ctx context.Context, connectionID string) (domain.Connection, error) {
	conn, err := m.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return domain.Connection{}, err
	}
	if conn.Status != domain.ConnectionConnected {
		return domain.Connection{}, fmt.Errorf("connection %s is %s: %w", conn.ID, conn.Status, domain.ErrConnectionInactive)
	}
	return conn, nil
}

func (m *Manager) syncOne(ctx context.Context, conn domain.Connection) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.runnersMutex.Lock()
	if _, exists := m.runners[conn.ID]; exists {
		m.runnersMutex.Unlock()
		return "", domain.ErrSyncInProgress
	}
	m.runners[conn.ID] = cancel
	m.runnersMutex.Unlock()

	defer func() {
		m.runnersMutex.Lock()
		delete(m.runners, conn.ID)
		m.runnersMutex.Unlock()
	}()

	scope := leaseScope(conn.ID)
	ok, err := m.leases.AcquireLease(runCtx, scope, m.cfg.WorkerID, m.cfg.LeaseTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("connection %s: %w", conn.ID, domain.ErrLeaseHeld)
	}
	defer func() {
		if err := m.leases.ReleaseLease(context.WithoutCancel(ctx), scope, m.cfg.WorkerID); err != nil {
			m.logger.Warn("failed to release lease", "scope", scope, "error", err)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go m.heartbeat(runCtx, cancel, scope, done)

	return m.runner.SyncConnection(runCtx, conn)
}

// heartbeat renews the lease at a third of its TTL. Losing the lease cancels
// the run so two workers never write for the same connection for long.
func (m *Manager) heartbeat(ctx context.Context, cancel context.CancelFunc, scope string, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.leases.RenewLease(ctx, scope, m.cfg.WorkerID, m.cfg.LeaseTTL)
			if err != nil {
				m.logger.Warn("lease renewal failed", "scope", scope, "error", err)
				continue
			}
			if !ok {
				m.logger.Error("lease lost, cancelling run", "scope", scope)
				cancel()
				return
			}
		}
	}
}

func leaseScope(connectionID string) string {
	return "connection:" + connectionID
}

// IsRunning reports whether a run for the connection is in flight in this process.
func (m *Manager) IsRunning(connectionID string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[connectionID]
	return exists
}

// GetRunningSyncs returns the connections with a run in flight in this process.
func (m *Manager) GetRunningSyncs() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	var syncs []string
	for id := range m.runners {
		syncs = append(syncs, id)
	}
	return syncs
}

// StopAll cancels every in-flight run and waits for background work to finish.
func (m *Manager) StopAll() {
	m.stop()

	m.runnersMutex.Lock()
	for id, cancel := range m.runners {
		m.logger.Info("stopping sync", "connection_id", id)
		cancel()
	}
	m.runnersMutex.Unlock()

	m.wg.Wait()
}

// Wait blocks until the scheduler and all triggered runs have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}
