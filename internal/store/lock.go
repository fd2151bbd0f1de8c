package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process already holds the instance lock.
var ErrLocked = errors.New("state is locked by another process")

// AcquireLock takes an exclusive, non-blocking lock on statePath+".lock" so two bots
// never share one auth record. Release with Unlock.
func AcquireLock(statePath string) (*flock.Flock, error) {
	lockPath := statePath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
	}
	return fileLock, nil
}
