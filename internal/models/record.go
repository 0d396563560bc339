// Package models defines the event envelope and wire shapes shared by the
// queue, transfer, sync, and authority layers.
package models

import (
	"sort"

	"github.com/mkwei/actionsync/internal/ident"
)

// Record wraps one opaque unit of application-level change with identity and
// ordering metadata. Immutable once created; the payload is never interpreted
// except for caller-specified dedup-key checks.
type Record struct {
	ID        ident.ID       `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Origin    string         `json:"origin"`
	Payload   map[string]any `json:"payload"`
}

// NewRecord builds a record whose Timestamp mirrors the ID's high 48 bits.
func NewRecord(id ident.ID, origin string, payload map[string]any) Record {
	return Record{
		ID:        id,
		Timestamp: id.Millis(),
		Origin:    origin,
		Payload:   payload,
	}
}

// SortByID stable-sorts records by ID ascending. Stability preserves arrival
// order for equal IDs from different origins, which is the deterministic
// replay contract.
func SortByID(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

// Payloads extracts payloads in slice order.
func Payloads(records []Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, r.Payload)
	}
	return out
}

// PushRequest is the client-to-authority sync request.
type PushRequest struct {
	Origin    string   `json:"origin"`
	Watermark string   `json:"watermark"`
	Records   []Record `json:"records"`
}

// PushResponse is the authority-to-client sync response. Error is set with
// Success=false on a non-2xx status.
type PushResponse struct {
	Success    bool     `json:"success"`
	Watermark  string   `json:"watermark"`
	Records    []Record `json:"records"`
	ServerTime int64    `json:"serverTime"`
	Error      string   `json:"error,omitempty"`
}

// Document is the export/import transfer document. Field set and types are
// the compatibility contract; byte formatting is not.
type Document struct {
	Origin     string   `json:"origin"`
	ExportedAt int64    `json:"exportedAt"`
	Records    []Record `json:"records"`
	Watermark  string   `json:"watermark"`
}
