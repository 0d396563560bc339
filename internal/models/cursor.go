package models

import (
	"sync"

	"github.com/mkwei/actionsync/internal/ident"
)

// Cursor holds a device's last-sync watermark: the latest identifier the
// device has observed from the authority. Advancement is forward-only and
// compares decoded 64-bit values, never strings.
type Cursor struct {
	mu   sync.Mutex
	last ident.ID
}

// NewCursor creates a cursor at the given position. Use ident.None for a
// device that has never synced.
func NewCursor(at ident.ID) *Cursor {
	return &Cursor{last: at}
}

// Watermark returns the current position.
func (c *Cursor) Watermark() ident.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// String returns the wire encoding of the current position.
func (c *Cursor) String() string {
	return c.Watermark().String()
}

// Advance moves the cursor forward to id. Returns false when id is not
// strictly greater than the current position; the cursor never regresses.
func (c *Cursor) Advance(id ident.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id <= c.last {
		return false
	}
	c.last = id
	return true
}
