package store

import (
	"context"

	"github.com/dunamismax/pixelforge/internal/domain"
)

// EntryStore indexes generated artifacts by cache key.
type EntryStore interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Put(ctx context.Context, entry domain.CacheEntry) error
	// DeleteBySource removes every entry of sourceID and returns them so the
	// caller can remove their artifacts.
	DeleteBySource(ctx context.Context, sourceID string) ([]domain.CacheEntry, error)
	DeleteAll(ctx context.Context) ([]domain.CacheEntry, error)
}
