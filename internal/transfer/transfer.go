// Package transfer serializes a device's pending queue into a transferable
// document and replays such documents back into payload sequences. Transfer
// is the manual counterpart of a sync round: export on one device, import on
// another.
package transfer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/logging"
	"github.com/mkwei/actionsync/internal/models"
	"github.com/mkwei/actionsync/internal/sync/queue"
)

// Exporter produces transfer documents from a local queue.
type Exporter struct {
	mu     sync.Mutex
	queue  *queue.Queue
	cursor *models.Cursor
	last   *models.Document
	now    func() time.Time
}

// NewExporter creates an Exporter over the device's queue and watermark.
func NewExporter(q *queue.Queue, cursor *models.Cursor) *Exporter {
	return &Exporter{
		queue:  q,
		cursor: cursor,
		now:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	e.now = now
	return e
}

// Export snapshots the current queue contents and watermark into a document.
// It never mutates the queue: exporting is idempotent and safe to repeat
// before a transfer is confirmed.
func (e *Exporter) Export() (*models.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc := &models.Document{
		Origin:     e.queue.Origin(),
		ExportedAt: e.now().UnixMilli(),
		Records:    e.queue.Snapshot(),
		Watermark:  e.cursor.String(),
	}
	e.last = doc

	logging.Debug("Exported transfer document",
		map[string]any{"origin": doc.Origin, "records": len(doc.Records)})

	return copyDocument(doc), nil
}

// ReexportLast returns the last produced document without re-querying the
// queue, for retrying a transfer. Fails with NO_PRIOR_EXPORT when Export has
// never been called.
func (e *Exporter) ReexportLast() (*models.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.last == nil {
		return nil, errors.New(errors.ErrNoPriorExport, "nothing exported yet")
	}
	return copyDocument(e.last), nil
}

// copyDocument returns a shallow record-slice copy so callers cannot disturb
// the cached snapshot.
func copyDocument(doc *models.Document) *models.Document {
	out := *doc
	out.Records = append([]models.Record(nil), doc.Records...)
	return &out
}

// Importer replays transfer documents into payload sequences.
type Importer struct {
	cursor *models.Cursor
}

// NewImporter creates an Importer that advances the given watermark.
func NewImporter(cursor *models.Cursor) *Importer {
	return &Importer{cursor: cursor}
}

// Import parses a transfer document and returns its payloads sorted by record
// ID ascending. Two devices importing the same record set produce identical
// payload sequences regardless of on-wire array order.
//
// Import is a read, not a merge: it never touches the local queue, and only
// advances the watermark when the document's is numerically greater.
func (i *Importer) Import(data []byte) ([]map[string]any, error) {
	// Records is a pointer so a missing or null "records" field is
	// distinguishable from an empty list.
	var probe struct {
		Origin    string           `json:"origin"`
		Records   *[]models.Record `json:"records"`
		Watermark string           `json:"watermark"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedDocument, "document is not valid JSON", err)
	}
	if probe.Records == nil {
		return nil, errors.New(errors.ErrMalformedDocument, "document has no records list")
	}

	records := append([]models.Record(nil), *probe.Records...)
	models.SortByID(records)

	if probe.Watermark != "" {
		if wm, err := ident.Parse(probe.Watermark); err == nil {
			i.cursor.Advance(wm)
		} else {
			logging.Warn("Ignoring unparseable document watermark",
				map[string]any{"watermark": probe.Watermark})
		}
	}

	logging.Debug("Imported transfer document",
		map[string]any{"origin": probe.Origin, "records": len(records)})

	return models.Payloads(records), nil
}

// ImportDocument replays an already-decoded document.
func (i *Importer) ImportDocument(doc *models.Document) ([]map[string]any, error) {
	if doc == nil {
		return nil, errors.New(errors.ErrMalformedDocument, "nil document")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedDocument, "document not serializable", err)
	}
	return i.Import(data)
}
