package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ErrNoResult is returned when no scan has completed yet.
var ErrNoResult = errors.New("no completed scan")

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-scan invariant, exposes start/cancel and
// keeps the result of the last completed scan in memory.
// It is safe for concurrent use.
type Manager struct {
	mu  sync.Mutex
	db  *sql.DB
	cfg Config

	active   *ActiveScan
	cancelFn context.CancelFunc
	done     chan struct{}
	latest   *Result
}

// NewManager creates a Manager. db may be nil.
func NewManager(db *sql.DB, cfg Config) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// UpdateConfig replaces the configuration used for future scans.
// It does NOT affect a currently running scan.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Config returns the configuration used for the next scan.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Start launches an asynchronous scan. Returns an ActiveScan snapshot or
// ErrAlreadyRunning if a scan is already in progress. The previous result is
// dropped as soon as the new scan starts.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	// Create the scan_history record now so the ID is in the HTTP response.
	startedAt := time.Now()
	var scanID int64
	if m.db != nil {
		id, err := insertScanRecord(m.db, startedAt, triggeredBy, m.cfg.Threshold)
		if err != nil {
			return nil, fmt.Errorf("create scan record: %w", err)
		}
		scanID = id
	}

	progress := &Progress{}
	scanCtx, cancel := context.WithCancel(parentCtx)

	active := &ActiveScan{
		ID:          scanID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel
	m.done = make(chan struct{})
	m.latest = nil

	scanner := New(m.db, m.cfg)
	done := m.done

	go func() {
		defer close(done)
		defer cancel()

		res, err := scanner.execute(scanCtx, scanID, triggeredBy, startedAt, progress)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan run error", "error", err)
		}

		m.mu.Lock()
		if err == nil {
			m.latest = res
		}
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return active, nil
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// Wait blocks until the most recently started scan has finished or ctx is
// done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// Latest returns the result of the last completed scan.
func (m *Manager) Latest() (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return nil, ErrNoResult
	}
	return m.latest, nil
}

// MarkStaleScansFailed marks any scan_history rows still in 'running' state
// as 'failed'. This should be called once at startup in case a previous
// process crashed mid-scan.
func MarkStaleScansFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE scan_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale scans failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scans as failed", "count", n)
	}
	return nil
}
