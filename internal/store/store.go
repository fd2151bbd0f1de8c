package store

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt is returned by Load when the persisted record cannot be decoded.
// Callers fall back to the zero AuthRecord.
var ErrCorrupt = errors.New("corrupt auth state")

// AuthRecord is the only durable entity: whether registration ever succeeded.
// UpdatedAt is kept by backends with their own column; the JSON file holds only registered.
type AuthRecord struct {
	Registered bool       `json:"registered"`
	UpdatedAt  *time.Time `json:"-"`
}

// AuthStore persists the AuthRecord across process restarts.
type AuthStore interface {
	// Load returns the stored record. A missing record yields the zero value and no error.
	Load(ctx context.Context) (AuthRecord, error)

	// Save replaces the stored record.
	Save(ctx context.Context, rec AuthRecord) error

	// Close releases the underlying resources.
	Close() error
}
