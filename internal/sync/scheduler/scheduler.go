// Package scheduler provides background auto-sync: a debounce timer armed by
// dispatches and an independent periodic timer both trigger sync rounds.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/logging"
	syncpkg "github.com/mkwei/actionsync/internal/sync"
)

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // periodic sync cadence (default: 30 seconds)
	Debounce     time.Duration // quiet period after a dispatch (default: 1 second)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 30 * time.Second,
		Debounce:     time.Second,
	}
}

// Scheduler triggers sync rounds for an engine. Overlapping triggers are
// suppressed by the engine's in-progress guard: a round already running makes
// a timer-triggered sync a no-op, not a queued retry.
type Scheduler struct {
	engine       syncpkg.EngineInterface
	syncInterval time.Duration
	debounce     time.Duration
	notifyCh     chan struct{}
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	lastSyncTime time.Time
}

// New creates a Scheduler for the engine.
func New(engine syncpkg.EngineInterface, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Scheduler{
		engine:       engine,
		syncInterval: config.SyncInterval,
		debounce:     config.Debounce,
		notifyCh:     make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the timer loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Auto-sync scheduler started",
		map[string]any{"interval": s.syncInterval.String(), "debounce": s.debounce.String()})
}

// Stop cancels all pending timers and waits for the loop to exit.
// Idempotent; leaves no dangling timers.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// Notify arms (or re-arms) the debounce timer. The engine's dispatch
// listener calls this on every dispatch, so a burst of dispatches produces
// one sync after the quiet period.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// loop owns both timers. A fired trigger runs the sync on this goroutine so
// stopping the scheduler also waits out an auto-triggered round.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.notifyCh:
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(s.debounce)
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			s.runSync(ctx, "debounce")
		case <-ticker.C:
			s.runSync(ctx, "interval")
		}
	}
}

// runSync executes one round. Failures are logged and the timers reschedule;
// auto-sync never crashes the host process on a transient failure.
func (s *Scheduler) runSync(ctx context.Context, trigger string) {
	result, err := s.engine.Sync(ctx)

	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping",
				map[string]any{"trigger": trigger})
			return
		}
		logging.ErrorWithCode("Auto-sync failed", string(errors.CodeOf(err)), err,
			map[string]any{"trigger": trigger})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Auto-sync completed",
		map[string]any{"trigger": trigger, "sent": result.Sent, "received": result.Received})
}

// TriggerSync runs an immediate round, bypassing the timers. Returns false
// when a sync was already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	_, err := s.engine.Sync(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			return false
		}
		logging.ErrorWithCode("Manual sync failed", string(errors.CodeOf(err)), err, nil)
		return false
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
	return true
}

// IsRunning reports whether the timer loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastSyncTime returns the completion time of the last successful
// scheduler-triggered sync.
func (s *Scheduler) LastSyncTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncTime
}
