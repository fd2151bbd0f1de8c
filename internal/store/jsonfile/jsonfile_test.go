package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/afkbot/internal/store"
)

func TestLoadMissingFileIsDefault(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))

	rec, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Registered {
		t.Fatalf("expected registered=false")
	}
}

func TestLoadMalformedFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, err := New(path).Load(context.Background())
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if rec.Registered {
		t.Fatalf("expected default record on corrupt file")
	}
}

func TestSaveWritesPrettyJSONAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	ctx := context.Background()

	if err := New(path).Save(ctx, store.AuthRecord{Registered: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "{\n  \"registered\": true\n}") {
		t.Fatalf("unexpected file contents: %q", data)
	}

	rec, err := New(path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !rec.Registered {
		t.Fatalf("expected registered=true after reopen")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSaveWritesOnlyRegisteredFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)
	if s.Path() != path {
		t.Fatalf("Path = %q, want %q", s.Path(), path)
	}

	now := time.Now()
	if err := s.Save(context.Background(), store.AuthRecord{Registered: true, UpdatedAt: &now}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "{\n  \"registered\": true\n}" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}
