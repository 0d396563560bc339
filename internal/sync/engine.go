// Package sync implements one device's side of the reconciliation protocol:
// dispatch into the local queue, push pending records to the log authority,
// apply the records the authority returns, and commit the watermark.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/models"
	"github.com/mkwei/actionsync/internal/storage"
	"github.com/mkwei/actionsync/internal/sync/queue"
)

// Status represents the engine's position in a sync attempt.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusSending          Status = "sending"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusReconciling      Status = "reconciling"
	StatusFailed           Status = "failed"
)

// Transport performs one round-trip against a log authority.
type Transport interface {
	Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error)
}

// RemoteHandler is invoked with remote payloads after a successful sync.
// A handler failure is logged, never propagated.
type RemoteHandler func(payloads []map[string]any) error

// Config holds engine configuration.
type Config struct {
	Origin        string        // device identifier; generated when empty
	MaxQueueSize  int           // pending-record bound (default queue.DefaultMaxSize)
	RetryAttempts int           // transport tries per sync (default 3)
	RetryBase     time.Duration // backoff unit; delays are RetryBase, 2x, 4x... (default 1s)
	Storage       storage.Store // optional device-state persistence
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 3,
		RetryBase:     time.Second,
	}
}

// Result summarizes one successful sync round.
type Result struct {
	Applied   []map[string]any // remote payloads in replay order
	Watermark string
	Sent      int
	Received  int
	Duration  time.Duration
}

// Engine orchestrates sync rounds for a single device. The queue it owns is
// never shared with another engine.
type Engine struct {
	mu         gosync.Mutex
	queue      *queue.Queue
	cursor     *models.Cursor
	transport  Transport
	store      storage.Store
	origin     string
	retries    int
	retryBase  time.Duration
	status     Status
	syncing    bool
	closed     bool
	onRemote   RemoteHandler
	onDispatch func()
	lastSync   time.Time
	lastErr    error
}

// New creates an Engine. When cfg.Storage is set, previously persisted device
// state is restored; a missing or unreadable state file degrades to a fresh
// in-memory device.
func New(cfg Config, transport Transport) *Engine {
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}

	e := &Engine{
		cursor:    models.NewCursor(ident.None),
		transport: transport,
		store:     cfg.Storage,
		origin:    cfg.Origin,
		retries:   cfg.RetryAttempts,
		retryBase: cfg.RetryBase,
		status:    StatusIdle,
	}

	if cfg.Storage != nil {
		if state, err := cfg.Storage.Load(); err != nil {
			logging.Warn("Device state unavailable, starting in-memory",
				map[string]any{"error": err.Error()})
		} else if state != nil {
			if state.Origin != "" {
				e.origin = state.Origin
			}
			if wm, err := ident.Parse(state.Watermark); err == nil {
				e.cursor.Advance(wm)
			}
			e.queue = queue.New(e.origin, cfg.MaxQueueSize)
			e.queue.Restore(state.Records)
		}
	}
	if e.queue == nil {
		e.queue = queue.New(e.origin, cfg.MaxQueueSize)
	}

	return e
}

// Origin returns the device identifier.
func (e *Engine) Origin() string { return e.origin }

// Queue exposes the device's pending queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Cursor exposes the device's watermark.
func (e *Engine) Cursor() *models.Cursor { return e.cursor }

// Status returns the engine's current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the completion time of the last successful sync.
func (e *Engine) LastSync() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the last sync failure.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetRemoteHandler registers the callback for remote payloads.
func (e *Engine) SetRemoteHandler(fn RemoteHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemote = fn
}

// SetDispatchListener registers a hook fired after every successful dispatch.
// The auto-sync scheduler uses it to arm its debounce timer.
func (e *Engine) SetDispatchListener(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDispatch = fn
}

// Dispatch appends a payload to the local queue and returns the record ID.
// Dedup keys collapse pending records for the same logical entity to the
// newest one before transmission.
func (e *Engine) Dispatch(payload map[string]any, dedupKeys ...string) (ident.ID, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ident.None, errors.New(errors.ErrEngineClosed, "engine is closed")
	}
	listener := e.onDispatch
	e.mu.Unlock()

	id, err := e.queue.Append(payload, dedupKeys)
	if err != nil {
		return ident.None, err
	}

	e.persist()
	if listener != nil {
		listener()
	}
	return id, nil
}

// Sync performs one reconciliation round: push the pending batch, apply what
// the authority returns, ack the sent batch, commit the watermark.
//
// Failures leave local state untouched, so the whole batch is retried on the
// next round (at-least-once delivery). Only one sync runs at a time; a
// concurrent call fails fast with SYNC_IN_PROGRESS.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrEngineClosed, "engine is closed")
	}
	if e.syncing {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	e.syncing = true
	e.status = StatusSending
	e.mu.Unlock()

	start := time.Now()
	result, err := e.run(ctx, start)

	e.mu.Lock()
	e.syncing = false
	if err != nil {
		e.status = StatusFailed
		e.lastErr = err
	} else {
		e.status = StatusIdle
		e.lastErr = nil
		e.lastSync = time.Now()
	}
	handler := e.onRemote
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}

	e.persist()
	if handler != nil {
		e.invokeHandler(handler, result.Applied)
	}
	return result, nil
}

// run executes the round body. State is only mutated after a success.
func (e *Engine) run(ctx context.Context, start time.Time) (*Result, error) {
	batch := e.queue.Snapshot()
	req := &models.PushRequest{
		Origin:    e.origin,
		Watermark: e.cursor.String(),
		Records:   batch,
	}

	e.setStatus(StatusAwaitingResponse)
	resp, err := e.pushWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, errors.Newf(errors.ErrSyncRejected, "authority rejected sync: %s", resp.Error)
	}

	// A response that lands after Close is discarded without touching the
	// queue or cursor.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New(errors.ErrEngineClosed, "engine closed during sync")
	}
	e.status = StatusReconciling
	e.mu.Unlock()

	remote := append([]models.Record(nil), resp.Records...)
	models.SortByID(remote)

	ids := make([]ident.ID, 0, len(batch))
	for _, rec := range batch {
		ids = append(ids, rec.ID)
	}
	e.queue.Ack(ids)

	if wm, perr := ident.Parse(resp.Watermark); perr == nil {
		e.cursor.Advance(wm)
	} else {
		logging.Warn("Ignoring unparseable watermark from authority",
			map[string]any{"watermark": resp.Watermark})
	}

	result := &Result{
		Applied:   models.Payloads(remote),
		Watermark: e.cursor.String(),
		Sent:      len(batch),
		Received:  len(remote),
		Duration:  time.Since(start),
	}

	logging.Info("Sync completed",
		map[string]any{"origin": e.origin, "sent": result.Sent, "received": result.Received})

	return result, nil
}

// pushWithRetry drives the transport with exponential backoff. Transport
// errors are retried; a delivered rejection is not.
func (e *Engine) pushWithRetry(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	var lastErr error

	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			delay := e.retryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(errors.ErrNetwork, "sync cancelled while backing off", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := e.transport.Push(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		logging.Warn("Push attempt failed",
			map[string]any{"origin": e.origin, "attempt": attempt + 1, "max": e.retries, "error": err.Error()})
	}

	return nil, errors.Wrap(errors.ErrNetwork,
		"transport failed after exhausting retries", lastErr)
}

// invokeHandler runs the remote-payload callback, containing its failures.
func (e *Engine) invokeHandler(handler RemoteHandler, payloads []map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithCode("Remote handler panicked", string(errors.ErrInternal), nil,
				map[string]any{"origin": e.origin, "panic": r})
		}
	}()

	if err := handler(payloads); err != nil {
		logging.Error("Remote handler failed", err,
			map[string]any{"origin": e.origin, "payloads": len(payloads)})
	}
}

// persist saves device state when storage is configured. Persistence is a
// side effect: failures are logged and never surfaced to the caller.
func (e *Engine) persist() {
	if e.store == nil {
		return
	}
	state := &storage.State{
		Origin:    e.origin,
		Watermark: e.cursor.String(),
		Records:   e.queue.Snapshot(),
	}
	if err := e.store.Save(state); err != nil {
		logging.Warn("Failed to persist device state",
			map[string]any{"origin": e.origin, "error": err.Error()})
	}
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Close marks the engine destroyed. Idempotent; an in-flight round completes
// against the transport but its result is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.status = StatusIdle
}
