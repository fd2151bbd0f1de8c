package store

import (
	"context"
	"sync"
)

// Memory is an AuthStore that lives only as long as the process. It is the fallback
// when the configured backend cannot be opened.
type Memory struct {
	mu    sync.Mutex
	rec   AuthRecord
	saves int
}

// NewMemory returns a store seeded with rec.
func NewMemory(rec AuthRecord) *Memory {
	return &Memory{rec: rec}
}

func (m *Memory) Load(context.Context) (AuthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, nil
}

func (m *Memory) Save(_ context.Context, rec AuthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
