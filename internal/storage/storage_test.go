// Package storage provides unit tests for device-state persistence.
package storage

import (
	"path/filepath"
	"testing"

	"github.com/mkwei/actionsync/internal/ident"
	"github.com/mkwei/actionsync/internal/models"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "device", "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

// TestLoadMissing verifies absence is not an error.
func TestLoadMissing(t *testing.T) {
	s := newStore(t)

	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state, got %+v", state)
	}
}

// TestSaveLoadRoundTrip verifies state survives persistence.
func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	rec := models.NewRecord(ident.ID(0x100123), "d1", map[string]any{"type": "A"})
	in := &State{
		Origin:    "d1",
		Watermark: ident.ID(0x100123).String(),
		Records:   []models.Record{rec},
	}

	if err := s.Save(in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected state, got nil")
	}
	if out.Origin != "d1" || out.Watermark != in.Watermark {
		t.Errorf("unexpected state %+v", out)
	}
	if len(out.Records) != 1 || out.Records[0].ID != rec.ID {
		t.Errorf("records did not round-trip: %+v", out.Records)
	}
	if out.Records[0].Payload["type"] != "A" {
		t.Errorf("payload did not round-trip: %v", out.Records[0].Payload)
	}
}

// TestClear verifies clearing is idempotent.
func TestClear(t *testing.T) {
	s := newStore(t)

	if err := s.Save(&State{Origin: "d1", Watermark: "0"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}

	state, err := s.Load()
	if err != nil || state != nil {
		t.Errorf("expected empty store, got %+v, %v", state, err)
	}
}
