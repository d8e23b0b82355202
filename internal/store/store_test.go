package store

import (
	"testing"
	"time"
)

func TestSaveAndLoadCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	cp := Checkpoint{
		Paused: false,
		Cursors: map[string]SymbolCursor{
			"BTC": {LastEventSeq: 42, LastAction: "MarketOpen", UpdatedAt: time.Unix(1700000000, 0).UTC()},
		},
	}
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Paused != cp.Paused {
		t.Errorf("Paused = %v, want %v", loaded.Paused, cp.Paused)
	}
	cursor, ok := loaded.Cursors["BTC"]
	if !ok {
		t.Fatal("expected a BTC cursor")
	}
	if cursor.LastEventSeq != 42 || cursor.LastAction != "MarketOpen" {
		t.Errorf("cursor = %+v, want seq=42 action=MarketOpen", cursor)
	}
}

func TestLoadMissingCheckpointReturnsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	cp, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.Paused {
		t.Error("expected Paused = false for a fresh checkpoint")
	}
	if len(cp.Cursors) != 0 {
		t.Errorf("expected no cursors, got %d", len(cp.Cursors))
	}
}

func TestSaveOverwritesPreviousCheckpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.Save(Checkpoint{Paused: false, Cursors: map[string]SymbolCursor{"BTC": {LastEventSeq: 1}}})
	_ = s.Save(Checkpoint{Paused: true, Cursors: map[string]SymbolCursor{"BTC": {LastEventSeq: 2}}})

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Paused {
		t.Error("expected Paused = true (latest save)")
	}
	if loaded.Cursors["BTC"].LastEventSeq != 2 {
		t.Errorf("LastEventSeq = %d, want 2 (latest save)", loaded.Cursors["BTC"].LastEventSeq)
	}
}
