package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lexisync/lexisync/pkg/vocab"
)

// Memory is an in-memory Store used in tests and as a scratch store.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]vocab.Entry
	lastSync int64
	profile  vocab.Profile
	hasProf  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]vocab.Entry)}
}

// GetAll implements Store.
func (m *Memory) GetAll(ctx context.Context) ([]vocab.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vocab.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	// Stable ID order, matching the SQLite store.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Clear implements Store.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]vocab.Entry)
	return nil
}

// BulkInsert implements Store.
func (m *Memory) BulkInsert(ctx context.Context, entries []vocab.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

// ReplaceAll implements Store.
func (m *Memory) ReplaceAll(ctx context.Context, entries []vocab.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]vocab.Entry, len(entries))
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

// LastSync implements Store.
func (m *Memory) LastSync(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync, nil
}

// SetLastSync implements Store; the value only moves forward.
func (m *Memory) SetLastSync(ctx context.Context, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts > m.lastSync {
		m.lastSync = ts
	}
	return nil
}

// Profile implements Store.
func (m *Memory) Profile(ctx context.Context) (vocab.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasProf {
		return vocab.Profile{}, ErrNoProfile
	}
	return m.profile, nil
}

// SetProfile implements Store.
func (m *Memory) SetProfile(ctx context.Context, p vocab.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
	m.hasProf = true
	return nil
}
