package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	if _, err := AcquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	second, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
	_ = second.Unlock()
}
