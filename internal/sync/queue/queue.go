// Package queue provides the per-device buffer of not-yet-acknowledged
// records. A queue is exclusively owned by one device process; insertion
// order is dispatch order.
package queue

import (
	"reflect"
	"sync"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/models"
)

// DefaultMaxSize bounds the queue when no explicit size is configured.
const DefaultMaxSize = 1000

// Queue is an ordered, bounded buffer of pending records.
type Queue struct {
	mu      sync.Mutex
	records []models.Record
	maxSize int
	origin  string
	gen     *ident.Generator
}

// New creates a queue for the given device origin. maxSize <= 0 selects
// DefaultMaxSize.
func New(origin string, maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Queue{
		maxSize: maxSize,
		origin:  origin,
		gen:     ident.NewGenerator(),
	}
}

// WithGenerator overrides the identifier generator for testing.
func (q *Queue) WithGenerator(gen *ident.Generator) *Queue {
	q.gen = gen
	return q
}

// Origin returns the owning device identifier.
func (q *Queue) Origin() string {
	return q.origin
}

// Append constructs a record for payload and adds it to the tail, returning
// the new record's ID.
//
// When dedupKeys is non-empty and payload carries every key, any queued
// record matching payload on all dedup keys is removed first: last write wins
// per logical key before the record ever leaves the device. Overflow evicts
// oldest entries after the append.
func (q *Queue) Append(payload map[string]any, dedupKeys []string) (ident.ID, error) {
	if payload == nil {
		return ident.None, errors.New(errors.ErrInvalidArgument, "payload must be a structured object")
	}
	for _, k := range dedupKeys {
		if k == "" {
			return ident.None, errors.New(errors.ErrInvalidArgument, "dedup keys must be non-empty strings")
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(dedupKeys) > 0 && hasAllKeys(payload, dedupKeys) {
		q.compact(payload, dedupKeys)
	}

	rec := models.NewRecord(q.gen.Next(), q.origin, payload)
	q.records = append(q.records, rec)
	q.evictOverflow()

	return rec.ID, nil
}

// compact removes queued records whose payload matches the new payload on
// every dedup key. Caller holds the lock.
func (q *Queue) compact(payload map[string]any, dedupKeys []string) {
	kept := q.records[:0]
	removed := 0
	for _, rec := range q.records {
		if matchesOnKeys(rec.Payload, payload, dedupKeys) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	q.records = kept

	if removed > 0 {
		logging.Debug("Compacted pending records",
			map[string]any{"origin": q.origin, "removed": removed, "keys": dedupKeys})
	}
}

// evictOverflow drops oldest entries until within bound. Caller holds the
// lock. Eviction is a side effect, never an error.
func (q *Queue) evictOverflow() {
	if len(q.records) <= q.maxSize {
		return
	}
	dropped := len(q.records) - q.maxSize
	q.records = append([]models.Record(nil), q.records[dropped:]...)

	logging.Warn("Queue overflow, evicted oldest records",
		map[string]any{"origin": q.origin, "dropped": dropped, "max_size": q.maxSize})
}

// hasAllKeys reports whether payload carries every key.
func hasAllKeys(payload map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := payload[k]; !ok {
			return false
		}
	}
	return true
}

// matchesOnKeys reports whether existing carries every key with a value equal
// to payload's. This is the only place the system looks inside a payload.
func matchesOnKeys(existing, payload map[string]any, keys []string) bool {
	for _, k := range keys {
		v, ok := existing[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(v, payload[k]) {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the current queue contents in dispatch order.
// It never mutates the queue, so a snapshot is safe to send, export, and
// retry.
func (q *Queue) Snapshot() []models.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.Record(nil), q.records...)
}

// Ack removes exactly the records with the given IDs. Records dispatched
// after the snapshot was taken are untouched. Returns the number removed.
func (q *Queue) Ack(ids []ident.ID) int {
	if len(ids) == 0 {
		return 0
	}

	acked := make(map[ident.ID]bool, len(ids))
	for _, id := range ids {
		acked[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.records[:0]
	removed := 0
	for _, rec := range q.records {
		if acked[rec.ID] {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	q.records = kept
	return removed
}

// Clear empties the queue unconditionally.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = nil
}

// IsEmpty reports whether every dispatched record has been acknowledged.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of pending records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Restore replaces the queue contents with persisted records, trimming to the
// size bound (oldest first).
func (q *Queue) Restore(records []models.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append([]models.Record(nil), records...)
	q.evictOverflow()
}
