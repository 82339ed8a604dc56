package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lbaroni/picsift/internal/library"
)

// ErrAlreadyRunning is returned when a sync is started while one is in progress.
var ErrAlreadyRunning = errors.New("a sync is already in progress")

// ErrNoActiveSync is returned when cancel is called with no sync running.
var ErrNoActiveSync = errors.New("no sync is currently running")

// ActiveSync holds live information about the running sync.
type ActiveSync struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-sync invariant and exposes start/cancel.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	store    *library.Store
	excludes []string
	cfg      Config
	onDone   func()

	active   *ActiveSync
	cancelFn context.CancelFunc
}

// NewManager creates a Manager. onDone, if non-nil, runs after every sync
// attempt regardless of outcome; the duplicate engine uses it to drop its
// cached listings.
func NewManager(store *library.Store, excludes []string, cfg Config, onDone func()) *Manager {
	return &Manager{
		store:    store,
		excludes: excludes,
		cfg:      cfg,
		onDone:   onDone,
	}
}

// Start launches an asynchronous sync. Returns an ActiveSync snapshot or
// ErrAlreadyRunning if a sync is already in progress.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveSync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	// Create the sync_history record NOW so the ID is available immediately
	// in the HTTP response, before the goroutine begins executing.
	startedAt := time.Now()
	syncID, err := insertSyncRecord(m.store.DB(), startedAt, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("create sync record: %w", err)
	}

	progress := &Progress{}
	syncCtx, cancel := context.WithCancel(parentCtx)

	active := &ActiveSync{
		ID:          syncID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel

	syncer := NewSyncer(m.store, m.excludes, m.cfg)

	go func() {
		defer cancel()

		if err := syncer.execute(syncCtx, syncID, startedAt, progress); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("sync run error", "error", err)
		}
		if m.onDone != nil {
			m.onDone()
		}

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return active, nil
}

// Cancel stops the currently running sync. Returns ErrNoActiveSync if idle.
func (m *Manager) Cancel() (*ActiveSync, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveSync
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveSync returns a snapshot of the running sync, or nil when idle.
func (m *Manager) ActiveSync() *ActiveSync {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}
