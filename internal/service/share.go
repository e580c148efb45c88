// Package service provides the share-handling logic behind the wire handler,
// delegating persistence to a repository interface and peer traffic to an
// exchanger.
package service

import (
	"context"

	"github.com/atinyakov/ShareKeeper/internal/models"
)

// ShareRepository defines the persistence operations needed by ShareService.
type ShareRepository interface {
	// Set replaces the history of key with a single entry.
	Set(ctx context.Context, key, value uint32) error
	// Get returns the entry at the key's read cursor and advances it.
	// It reports false when the key is unknown or its history is exhausted.
	Get(ctx context.Context, key uint32) (uint32, bool, error)
	// Patch appends last(history) ^ mask to the key's history.
	Patch(ctx context.Context, key, mask uint32) error
	// Inspect reports history length and cursor without consuming a read.
	Inspect(ctx context.Context, key uint32) (models.ShareState, bool, error)
	// Count returns the number of stored keys.
	Count(ctx context.Context) (int, error)
}

// ShareService implements the storage side of the share protocol.
type ShareService struct {
	repo ShareRepository
}

// NewShareService constructs a ShareService backed by repo.
func NewShareService(repo ShareRepository) *ShareService {
	return &ShareService{repo: repo}
}

// Store saves share as the only version of key.
func (s *ShareService) Store(ctx context.Context, key, share uint32) error {
	return s.repo.Set(ctx, key, share)
}

// Fetch consumes the next version of key.
func (s *ShareService) Fetch(ctx context.Context, key uint32) (uint32, bool, error) {
	return s.repo.Get(ctx, key)
}

// ApplyRefresh records a new version of owner's share masked with mask.
func (s *ShareService) ApplyRefresh(ctx context.Context, owner, mask uint32) error {
	return s.repo.Patch(ctx, owner, mask)
}

// Inspect returns the history metadata of key.
func (s *ShareService) Inspect(ctx context.Context, key uint32) (models.ShareState, bool, error) {
	return s.repo.Inspect(ctx, key)
}

// Count returns the number of keys with a stored share.
func (s *ShareService) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
