// Package scheduler provides unit tests for the auto-sync scheduler.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkwei/actionsync/internal/errors"
	syncpkg "github.com/mkwei/actionsync/internal/sync"
)

// mockEngine counts sync rounds and answers via respond.
type mockEngine struct {
	calls   atomic.Int64
	mu      sync.Mutex
	respond func() (*syncpkg.Result, error)
}

func (m *mockEngine) Sync(context.Context) (*syncpkg.Result, error) {
	m.calls.Add(1)
	m.mu.Lock()
	resp := m.respond
	m.mu.Unlock()
	if resp != nil {
		return resp()
	}
	return &syncpkg.Result{}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestDebounceCoalescesBurst verifies a burst of notifications produces one
// sync after the quiet period.
func TestDebounceCoalescesBurst(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, &Config{SyncInterval: time.Hour, Debounce: 20 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 5; i++ {
		s.Notify()
		time.Sleep(time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return engine.calls.Load() == 1 })

	// The quiet period has passed; no further rounds without new dispatches.
	time.Sleep(50 * time.Millisecond)
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 sync for the burst, got %d", got)
	}
}

// TestNotifyRearmsDebounce verifies a second burst triggers a second sync.
func TestNotifyRearmsDebounce(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, &Config{SyncInterval: time.Hour, Debounce: 10 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	s.Notify()
	waitFor(t, time.Second, func() bool { return engine.calls.Load() == 1 })

	s.Notify()
	waitFor(t, time.Second, func() bool { return engine.calls.Load() == 2 })
}

// TestPeriodicSync verifies the interval timer fires without dispatches.
func TestPeriodicSync(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, &Config{SyncInterval: 15 * time.Millisecond, Debounce: time.Hour})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return engine.calls.Load() >= 2 })
}

// TestInProgressSuppression verifies an in-progress round makes a trigger a
// no-op rather than a queued retry.
func TestInProgressSuppression(t *testing.T) {
	engine := &mockEngine{respond: func() (*syncpkg.Result, error) {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}}
	s := New(engine, &Config{SyncInterval: time.Hour, Debounce: 5 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	s.Notify()
	waitFor(t, time.Second, func() bool { return engine.calls.Load() == 1 })

	if !s.LastSyncTime().IsZero() {
		t.Error("suppressed round must not count as a completed sync")
	}
}

// TestTriggerSync verifies the manual bypass and its in-progress report.
func TestTriggerSync(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, nil)

	if !s.TriggerSync(context.Background()) {
		t.Error("expected manual sync to succeed")
	}
	if s.LastSyncTime().IsZero() {
		t.Error("expected LastSyncTime to be set")
	}

	engine.mu.Lock()
	engine.respond = func() (*syncpkg.Result, error) {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	engine.mu.Unlock()

	if s.TriggerSync(context.Background()) {
		t.Error("expected false while a round is in progress")
	}
}

// TestStopIdempotent verifies Stop can be called repeatedly and halts the
// timers.
func TestStopIdempotent(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, &Config{SyncInterval: 10 * time.Millisecond, Debounce: time.Hour})

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return engine.calls.Load() >= 1 })

	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("expected stopped scheduler")
	}

	after := engine.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if got := engine.calls.Load(); got != after {
		t.Errorf("timers still firing after Stop: %d -> %d", after, got)
	}
}

// TestStartTwice verifies a second Start is a no-op.
func TestStartTwice(t *testing.T) {
	engine := &mockEngine{}
	s := New(engine, &Config{SyncInterval: time.Hour, Debounce: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())
	defer s.Stop()

	s.Notify()
	waitFor(t, time.Second, func() bool { return engine.calls.Load() == 1 })

	time.Sleep(30 * time.Millisecond)
	if got := engine.calls.Load(); got != 1 {
		t.Errorf("double Start must not duplicate the loop, got %d syncs", got)
	}
}
