package authority

import (
	"fmt"
	gosync "sync"
	"time"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/models"
)

// Authority owns one shared log. All state is instance-owned; running several
// authorities in one process (as the tests do) never crosses streams.
//
// A single mutex serializes every round, so sequence assignment never
// interleaves mid-batch and equal-ID records keep their arrival order.
type Authority struct {
	mu       gosync.Mutex
	store    Store
	lastSeen map[string]uint64
	now      func() time.Time
}

// New creates an Authority over the given store.
func New(store Store) *Authority {
	return &Authority{
		store:    store,
		lastSeen: make(map[string]uint64),
		now:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// Receive validates and appends a batch. Validation runs over the whole batch
// before anything is stored: one bad record rejects the batch with
// INVALID_RECORD and nothing is applied. Records already present under the
// same (origin, id) are skipped, so redelivering a batch is harmless.
// Returns how many records were newly appended.
func (a *Authority) Receive(origin string, records []models.Record) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receiveLocked(origin, records)
}

func (a *Authority) receiveLocked(origin string, records []models.Record) (int, error) {
	if origin == "" {
		return 0, errors.New(errors.ErrInvalidArgument, "origin is required")
	}

	stamped := make([]models.Record, len(records))
	for i, r := range records {
		if err := validateRecord(r); err != nil {
			return 0, errors.Wrap(errors.ErrInvalidRecord,
				fmt.Sprintf("record %d of %d", i, len(records)), err)
		}
		r.Origin = origin
		stamped[i] = r
	}

	appended, err := a.store.Append(stamped, a.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	if appended > 0 {
		if last, err := a.store.Last(); err == nil && last != nil {
			a.lastSeen[origin] = last.Seq
		}
	}
	return appended, nil
}

func validateRecord(r models.Record) error {
	if r.ID == ident.None {
		return fmt.Errorf("missing id")
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("missing timestamp")
	}
	if r.Payload == nil {
		return fmt.Errorf("missing payload")
	}
	return nil
}

// RecordsSince returns every record another origin appended after the
// position of lastKnown, in log order. A caller never sees its own records
// back. Unknown or sentinel watermarks replay from the beginning.
func (a *Authority) RecordsSince(origin string, lastKnown ident.ID) ([]models.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordsSinceLocked(origin, lastKnown)
}

func (a *Authority) recordsSinceLocked(origin string, lastKnown ident.ID) ([]models.Record, error) {
	afterSeq := uint64(0)
	if lastKnown != ident.None {
		seq, err := a.store.SeqForID(lastKnown)
		if err != nil {
			return nil, err
		}
		afterSeq = seq
	}

	entries, err := a.store.Since(afterSeq, origin)
	if err != nil {
		return nil, err
	}
	return entryRecords(entries), nil
}

// LatestID returns the ID of the last appended record, or the sentinel when
// the log is empty. This is the watermark handed back to clients.
func (a *Authority) LatestID() (ident.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latestIDLocked()
}

func (a *Authority) latestIDLocked() (ident.ID, error) {
	last, err := a.store.Last()
	if err != nil {
		return ident.None, err
	}
	if last == nil {
		return ident.None, nil
	}
	return last.Record.ID, nil
}

// SyncRound performs one reconciliation round: receive the batch, replay what
// the caller hasn't seen, and hand back the new watermark. The round holds the
// lock end to end, so concurrent rounds serialize.
func (a *Authority) SyncRound(req *models.PushRequest) (*models.PushResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appended, err := a.receiveLocked(req.Origin, req.Records)
	if err != nil {
		return nil, err
	}

	// Unparseable watermarks replay from the beginning rather than failing
	// the round.
	lastKnown, err := ident.Parse(req.Watermark)
	if err != nil {
		lastKnown = ident.None
	}

	remote, err := a.recordsSinceLocked(req.Origin, lastKnown)
	if err != nil {
		return nil, err
	}

	latest, err := a.latestIDLocked()
	if err != nil {
		return nil, err
	}

	logging.Debug("Sync round completed", map[string]any{
		"origin":   req.Origin,
		"appended": appended,
		"replayed": len(remote),
	})

	return &models.PushResponse{
		Success:    true,
		Watermark:  latest.String(),
		Records:    remote,
		ServerTime: a.now().UnixMilli(),
	}, nil
}

// Stats is a diagnostic snapshot of the log.
type Stats struct {
	Total    int               `json:"total"`
	ByOrigin map[string]int    `json:"byOrigin"`
	LastSeen map[string]uint64 `json:"lastSeen"`
	LatestID string            `json:"latestId"`
	Recent   []models.Record   `json:"recent"`
}

// Stats returns aggregate log diagnostics.
func (a *Authority) Stats() (*Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts, err := a.store.CountByOrigin()
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	latest, err := a.latestIDLocked()
	if err != nil {
		return nil, err
	}

	recent, err := a.store.Recent(10)
	if err != nil {
		return nil, err
	}

	lastSeen := make(map[string]uint64, len(a.lastSeen))
	for origin, seq := range a.lastSeen {
		lastSeen[origin] = seq
	}

	return &Stats{
		Total:    total,
		ByOrigin: counts,
		LastSeen: lastSeen,
		LatestID: latest.String(),
		Recent:   recent,
	}, nil
}

// RecordsByOrigin returns one origin's stored records in log order.
func (a *Authority) RecordsByOrigin(origin string) ([]models.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.ByOrigin(origin)
}

// Reset destroys the log. Destructive; exposed for administration and tests.
func (a *Authority) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Reset(); err != nil {
		return err
	}
	a.lastSeen = make(map[string]uint64)
	logging.Warn("Log authority reset", nil)
	return nil
}

// Close releases the underlying store.
func (a *Authority) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Close()
}
