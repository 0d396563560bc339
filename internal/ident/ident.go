// Package ident generates time-ordered event identifiers.
//
// An ID packs a 48-bit millisecond timestamp into the high bits and a 16-bit
// per-process counter into the low bits. Within one process IDs are
// non-decreasing in call order; across processes they are only approximately
// ordered by wall clock. A counter wrap within a single millisecond is an
// accepted collision risk.
package ident

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ID is a 64-bit event identifier: (millis << 16) | counter.
type ID uint64

// None is the "no identifier yet" sentinel.
const None ID = 0

const counterBits = 16

// Millis returns the millisecond timestamp encoded in the high 48 bits.
func (id ID) Millis() int64 {
	return int64(id >> counterBits)
}

// Counter returns the 16-bit counter portion.
func (id ID) Counter() uint16 {
	return uint16(id & 0xffff)
}

// String returns the fixed-width 16-character lowercase hex encoding.
// At fixed width, lexicographic order equals numeric order.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// MarshalJSON encodes the ID as its hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("id must be a hex string: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a hex-encoded ID. Short forms such as the "0" sentinel are
// accepted on input; output is always fixed-width (see String).
func Parse(s string) (ID, error) {
	if s == "" {
		return None, fmt.Errorf("empty id")
	}
	if len(s) > 16 {
		return None, fmt.Errorf("id %q exceeds 16 hex chars", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return None, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(v), nil
}

// Generator produces IDs from a clock and a wrapping counter.
// The zero-value delay path never blocks and has no failure mode.
type Generator struct {
	mu      sync.Mutex
	counter uint16
	now     func() time.Time
}

// NewGenerator creates a Generator backed by the system clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// WithClock overrides the clock for testing.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Next returns the next identifier. The counter increments on every call and
// wraps mod 2^16.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(g.now().UnixMilli()) & 0xffffffffffff
	c := g.counter
	g.counter++

	return ID(ms<<counterBits | uint64(c))
}
