// Package authority provides unit tests for the shared log authority.
package authority

import (
	"path/filepath"
	"testing"

	"github.com/mkwei/actionsync/internal/errors"
	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/models"
)

func rec(id uint64, origin string, payload map[string]any) models.Record {
	return models.NewRecord(ident.ID(id<<16), origin, payload)
}

// eachStore runs a test against both store implementations.
func eachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := OpenSQLite(filepath.Join(t.TempDir(), "log.db"))
		if err != nil {
			t.Fatalf("OpenSQLite failed: %v", err)
		}
		defer store.Close()
		fn(t, store)
	})
}

// TestNoSelfEcho verifies an origin never receives its own records back.
func TestNoSelfEcho(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		if _, err := a.Receive("d1", []models.Record{rec(1, "d1", map[string]any{"n": 1})}); err != nil {
			t.Fatalf("Receive failed: %v", err)
		}

		mine, err := a.RecordsSince("d1", ident.None)
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(mine) != 0 {
			t.Errorf("origin must not see its own records, got %d", len(mine))
		}

		theirs, err := a.RecordsSince("d2", ident.None)
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(theirs) != 1 || theirs[0].Origin != "d1" {
			t.Errorf("other origin should see the record, got %v", theirs)
		}
	})
}

// TestSyncRoundEndToEnd walks the two-device example: d1 pushes, d2 pushes
// and receives d1's records, d1 receives d2's on its next round.
func TestSyncRoundEndToEnd(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		resp1, err := a.SyncRound(&models.PushRequest{
			Origin:    "d1",
			Watermark: "0",
			Records: []models.Record{
				rec(1, "d1", map[string]any{"type": "A"}),
				rec(2, "d1", map[string]any{"type": "B"}),
			},
		})
		if err != nil {
			t.Fatalf("d1 round failed: %v", err)
		}
		if len(resp1.Records) != 0 {
			t.Errorf("d1 must not receive its own records, got %d", len(resp1.Records))
		}
		if resp1.Watermark != ident.ID(2<<16).String() {
			t.Errorf("expected watermark of last entry, got %s", resp1.Watermark)
		}

		resp2, err := a.SyncRound(&models.PushRequest{
			Origin:    "d2",
			Watermark: "0",
			Records:   []models.Record{rec(3, "d2", map[string]any{"type": "C"})},
		})
		if err != nil {
			t.Fatalf("d2 round failed: %v", err)
		}
		if len(resp2.Records) != 2 {
			t.Fatalf("d2 should receive d1's 2 records, got %d", len(resp2.Records))
		}
		if resp2.Records[0].Payload["type"] != "A" || resp2.Records[1].Payload["type"] != "B" {
			t.Errorf("unexpected replay order: %v", resp2.Records)
		}

		resp3, err := a.SyncRound(&models.PushRequest{
			Origin:    "d1",
			Watermark: resp1.Watermark,
			Records:   nil,
		})
		if err != nil {
			t.Fatalf("d1 second round failed: %v", err)
		}
		if len(resp3.Records) != 1 || resp3.Records[0].Payload["type"] != "C" {
			t.Errorf("d1 should receive only d2's record, got %v", resp3.Records)
		}
	})
}

// TestDuplicateBatchIdempotent resubmits the same batch and verifies the log
// doesn't grow.
func TestDuplicateBatchIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)
		batch := []models.Record{
			rec(1, "d1", map[string]any{"n": 1}),
			rec(2, "d1", map[string]any{"n": 2}),
		}

		first, err := a.Receive("d1", batch)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if first != 2 {
			t.Errorf("expected 2 appended, got %d", first)
		}

		second, err := a.Receive("d1", batch)
		if err != nil {
			t.Fatalf("resubmit failed: %v", err)
		}
		if second != 0 {
			t.Errorf("resubmitted batch must append nothing, got %d", second)
		}

		out, err := a.RecordsSince("d2", ident.None)
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected 2 records in the log, got %d", len(out))
		}
	})
}

// TestSameIDDifferentOrigins verifies equal IDs from different origins both
// land and keep arrival order.
func TestSameIDDifferentOrigins(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		a.Receive("d1", []models.Record{rec(7, "d1", map[string]any{"from": "d1"})})
		a.Receive("d2", []models.Record{rec(7, "d2", map[string]any{"from": "d2"})})

		out, err := a.RecordsSince("d3", ident.None)
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("expected both records, got %d", len(out))
		}
		if out[0].Payload["from"] != "d1" || out[1].Payload["from"] != "d2" {
			t.Errorf("equal IDs must keep arrival order, got %v", out)
		}
	})
}

// TestInvalidRecordRejectsWholeBatch verifies batch-atomic validation.
func TestInvalidRecordRejectsWholeBatch(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		bad := []models.Record{
			rec(1, "d1", map[string]any{"n": 1}),
			{ID: ident.ID(2 << 16), Timestamp: 2, Origin: "d1"}, // nil payload
		}

		if _, err := a.Receive("d1", bad); !errors.Is(err, errors.ErrInvalidRecord) {
			t.Fatalf("expected INVALID_RECORD, got %v", err)
		}

		out, err := a.RecordsSince("d2", ident.None)
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(out) != 0 {
			t.Errorf("rejected batch must apply nothing, got %d records", len(out))
		}
	})
}

// TestValidationCases covers the individual required fields.
func TestValidationCases(t *testing.T) {
	a := New(NewMemoryStore())

	cases := []struct {
		name   string
		record models.Record
	}{
		{"missing id", models.Record{Timestamp: 1, Payload: map[string]any{}}},
		{"missing timestamp", models.Record{ID: ident.ID(1 << 16), Payload: map[string]any{}}},
		{"missing payload", models.Record{ID: ident.ID(1 << 16), Timestamp: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Receive("d1", []models.Record{tc.record}); !errors.Is(err, errors.ErrInvalidRecord) {
				t.Errorf("expected INVALID_RECORD, got %v", err)
			}
		})
	}

	if _, err := a.Receive("", []models.Record{rec(1, "", map[string]any{})}); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for missing origin, got %v", err)
	}
}

// TestWatermarkPositioning verifies replay resumes strictly after the
// watermark's log position.
func TestWatermarkPositioning(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		a.Receive("d1", []models.Record{
			rec(1, "d1", map[string]any{"n": 1}),
			rec(2, "d1", map[string]any{"n": 2}),
			rec(3, "d1", map[string]any{"n": 3}),
		})

		out, err := a.RecordsSince("d2", ident.ID(2<<16))
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(out) != 1 || out[0].ID != ident.ID(3<<16) {
			t.Errorf("expected only the record after the watermark, got %v", out)
		}

		// Unknown watermark replays from the beginning.
		all, err := a.RecordsSince("d2", ident.ID(999<<16))
		if err != nil {
			t.Fatalf("RecordsSince failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("unknown watermark should replay everything, got %d", len(all))
		}
	})
}

// TestLatestID verifies the watermark source.
func TestLatestID(t *testing.T) {
	a := New(NewMemoryStore())

	latest, err := a.LatestID()
	if err != nil || latest != ident.None {
		t.Errorf("empty log should report the sentinel, got %s, %v", latest, err)
	}

	a.Receive("d1", []models.Record{rec(1, "d1", map[string]any{})})
	a.Receive("d1", []models.Record{rec(5, "d1", map[string]any{})})

	latest, err = a.LatestID()
	if err != nil {
		t.Fatalf("LatestID failed: %v", err)
	}
	if latest != ident.ID(5<<16) {
		t.Errorf("expected last entry's ID, got %s", latest)
	}
}

// TestStatsAndReset verifies diagnostics and the destructive reset.
func TestStatsAndReset(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		a := New(store)

		a.Receive("d1", []models.Record{rec(1, "d1", map[string]any{}), rec(2, "d1", map[string]any{})})
		a.Receive("d2", []models.Record{rec(3, "d2", map[string]any{})})

		stats, err := a.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Total != 3 || stats.ByOrigin["d1"] != 2 || stats.ByOrigin["d2"] != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if stats.LatestID != ident.ID(3<<16).String() {
			t.Errorf("unexpected latest ID %s", stats.LatestID)
		}
		if len(stats.Recent) != 3 {
			t.Errorf("expected 3 recent records, got %d", len(stats.Recent))
		}

		byOrigin, err := a.RecordsByOrigin("d1")
		if err != nil || len(byOrigin) != 2 {
			t.Errorf("expected 2 records for d1, got %d, %v", len(byOrigin), err)
		}

		if err := a.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		stats, err = a.Stats()
		if err != nil {
			t.Fatalf("Stats after reset failed: %v", err)
		}
		if stats.Total != 0 {
			t.Errorf("expected empty log after reset, got %d", stats.Total)
		}

		// The log accepts records again after a reset.
		if n, err := a.Receive("d1", []models.Record{rec(1, "d1", map[string]any{})}); err != nil || n != 1 {
			t.Errorf("expected append after reset, got %d, %v", n, err)
		}
	})
}

// TestSQLiteReopen verifies the log survives a store restart.
func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	a := New(store)
	a.Receive("d1", []models.Record{rec(1, "d1", map[string]any{"type": "A"})})
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store2.Close()

	out, err := New(store2).RecordsSince("d2", ident.None)
	if err != nil {
		t.Fatalf("RecordsSince failed: %v", err)
	}
	if len(out) != 1 || out[0].Payload["type"] != "A" {
		t.Errorf("log did not survive reopen: %v", out)
	}
	if out[0].ID != ident.ID(1<<16) {
		t.Errorf("ID did not survive reopen: %s", out[0].ID)
	}
}
