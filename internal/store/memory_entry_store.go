package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		entries: make(map[string]domain.CacheEntry),
	}
}

func (s *MemoryEntryStore) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok, nil
}

func (s *MemoryEntryStore) Put(_ context.Context, entry domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[entry.Key]; ok && !prev.CreatedAt.IsZero() {
		entry.CreatedAt = prev.CreatedAt
	}
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemoryEntryStore) DeleteBySource(_ context.Context, sourceID string) ([]domain.CacheEntry, error) {
	return s.deleteWhere(func(e domain.CacheEntry) bool { return e.SourceID == sourceID }), nil
}

func (s *MemoryEntryStore) DeleteAll(_ context.Context) ([]domain.CacheEntry, error) {
	return s.deleteWhere(func(domain.CacheEntry) bool { return true }), nil
}

func (s *MemoryEntryStore) deleteWhere(match func(domain.CacheEntry) bool) []domain.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []domain.CacheEntry
	for key, entry := range s.entries {
		if match(entry) {
			removed = append(removed, entry)
			delete(s.entries, key)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Key < removed[j].Key })
	return removed
}
