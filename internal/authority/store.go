// Package authority implements the shared log authority: an append-only
// record log with strictly-increasing sequence numbers and per-origin replay.
package authority

import (
	"sync"

	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/models"
)

// Entry is one appended log position. Seq is assigned by the store and
// strictly increases in append order.
type Entry struct {
	Seq        uint64        `json:"seq"`
	ReceivedAt int64         `json:"receivedAt"`
	Record     models.Record `json:"record"`
}

// Store is the persistence layer behind the authority. Implementations must
// assign strictly-increasing sequence numbers and skip records already stored
// under the same (origin, id), so resubmitting a batch is harmless.
type Store interface {
	// Append stores the records that are not already present, assigning
	// fresh sequence numbers, and returns how many were newly stored.
	Append(records []models.Record, receivedAt int64) (int, error)

	// Since returns entries with Seq > afterSeq, excluding excludeOrigin,
	// in sequence order.
	Since(afterSeq uint64, excludeOrigin string) ([]Entry, error)

	// Last returns the newest entry, or nil when the log is empty.
	Last() (*Entry, error)

	// SeqForID returns the highest sequence holding the given record ID,
	// or 0 when the ID is not in the log.
	SeqForID(id ident.ID) (uint64, error)

	// CountByOrigin returns per-origin record counts.
	CountByOrigin() (map[string]int, error)

	// ByOrigin returns one origin's records in sequence order.
	ByOrigin(origin string) ([]models.Record, error)

	// Recent returns the newest n records, oldest first.
	Recent(n int) ([]models.Record, error)

	// Reset destroys the log.
	Reset() error

	// Close releases store resources.
	Close() error
}

// MemoryStore keeps the log in process memory. Duplicate detection uses an
// (origin, id) index alongside the entry slice.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
	seen    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextSeq: 1,
		seen:    make(map[string]struct{}),
	}
}

func entryKey(origin string, id ident.ID) string {
	return origin + "\x00" + id.String()
}

// Append implements Store.
func (s *MemoryStore) Append(records []models.Record, receivedAt int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended := 0
	for _, r := range records {
		key := entryKey(r.Origin, r.ID)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.entries = append(s.entries, Entry{
			Seq:        s.nextSeq,
			ReceivedAt: receivedAt,
			Record:     r,
		})
		s.nextSeq++
		appended++
	}
	return appended, nil
}

// Since implements Store.
func (s *MemoryStore) Since(afterSeq uint64, excludeOrigin string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.entries {
		if e.Seq <= afterSeq || e.Record.Origin == excludeOrigin {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Last implements Store.
func (s *MemoryStore) Last() (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	last := s.entries[len(s.entries)-1]
	return &last, nil
}

// SeqForID implements Store.
func (s *MemoryStore) SeqForID(id ident.ID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Record.ID == id {
			return s.entries[i].Seq, nil
		}
	}
	return 0, nil
}

// CountByOrigin implements Store.
func (s *MemoryStore) CountByOrigin() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.Record.Origin]++
	}
	return counts, nil
}

// ByOrigin implements Store.
func (s *MemoryStore) ByOrigin(origin string) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Record
	for _, e := range s.entries {
		if e.Record.Origin == origin {
			out = append(out, e.Record)
		}
	}
	return out, nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(n int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Record, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		out = append(out, e.Record)
	}
	return out, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.nextSeq = 1
	s.seen = make(map[string]struct{})
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
