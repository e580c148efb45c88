// Package repository provides share history storage: an in-memory store and
// a PostgreSQL-backed store with identical semantics.
package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/atinyakov/ShareKeeper/internal/models"
)

// MemoryShareRepository keeps every key's share history and read cursor in
// memory. Each method holds the lock for its own duration only.
type MemoryShareRepository struct {
	mu      sync.Mutex
	history map[uint32][]uint32
	hits    map[uint32]int
}

// NewMemoryShareRepository returns an empty repository.
func NewMemoryShareRepository() *MemoryShareRepository {
	return &MemoryShareRepository{
		history: make(map[uint32][]uint32),
		hits:    make(map[uint32]int),
	}
}

// Set replaces the history of key with the single entry value and rewinds
// its read cursor.
func (r *MemoryShareRepository) Set(_ context.Context, key, value uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[key] = []uint32{value}
	r.hits[key] = 0
	return nil
}

// Get returns the history entry at the read cursor and advances the cursor.
// It reports false for an unknown key or once the history is exhausted; the
// cursor never moves past the end of the history.
func (r *MemoryShareRepository) Get(_ context.Context, key uint32) (uint32, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.hits[key]
	if !ok {
		return 0, false, nil
	}
	history := r.history[key]
	if idx >= len(history) {
		return 0, false, nil
	}
	r.hits[key] = idx + 1
	return history[idx], true, nil
}

// Patch appends last(history) ^ mask. Unknown keys are left alone.
func (r *MemoryShareRepository) Patch(_ context.Context, key, mask uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.history[key]
	if len(history) == 0 {
		return nil
	}
	r.history[key] = append(history, history[len(history)-1]^mask)
	return nil
}

// Inspect reports the size, cursor and latest entry of a key's history.
func (r *MemoryShareRepository) Inspect(_ context.Context, key uint32) (models.ShareState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	history, ok := r.history[key]
	if !ok || len(history) == 0 {
		return models.ShareState{}, false, nil
	}
	return models.ShareState{
		Versions: len(history),
		Cursor:   r.hits[key],
		Latest:   history[len(history)-1],
	}, true, nil
}

// Count returns the number of stored keys.
func (r *MemoryShareRepository) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history), nil
}

// Snapshot returns a deep copy of all histories and cursors.
func (r *MemoryShareRepository) Snapshot() map[uint32]models.ShareRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uint32]models.ShareRecord, len(r.history))
	for key, history := range r.history {
		out[key] = models.ShareRecord{
			History: slices.Clone(history),
			Cursor:  r.hits[key],
		}
	}
	return out
}

// Restore replaces the repository contents with records. Cursors are clamped
// to the history length.
func (r *MemoryShareRepository) Restore(records map[uint32]models.ShareRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = make(map[uint32][]uint32, len(records))
	r.hits = make(map[uint32]int, len(records))
	for key, rec := range records {
		if len(rec.History) == 0 {
			continue
		}
		r.history[key] = slices.Clone(rec.History)
		r.hits[key] = min(max(rec.Cursor, 0), len(rec.History))
	}
}
