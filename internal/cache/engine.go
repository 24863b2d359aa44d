package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// Engine owns the on-disk artifact tree and its entry index.
type Engine struct {
	root      string
	publicURL string
	entries   store.EntryStore
	now       func() time.Time
}

func NewEngine(root, publicURL string, entries store.EntryStore) *Engine {
	return &Engine{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		entries:   entries,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Root() string {
	return e.root
}

// Lookup returns the entry for key when it is still fresh for src under
// revision. Stale or dangling entries read as misses.
func (e *Engine) Lookup(ctx context.Context, key string, src domain.Source, revision string) (domain.CacheEntry, bool, error) {
	entry, ok, err := e.entries.Get(ctx, key)
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !ok || entry.Revision != revision {
		return domain.CacheEntry{}, false, nil
	}
	if entry.ModifiedAt.Before(src.LastModified()) {
		return domain.CacheEntry{}, false, nil
	}
	if entry.Path != "" {
		if _, err := os.Stat(entry.Path); err != nil {
			return domain.CacheEntry{}, false, nil
		}
	}
	return entry, true, nil
}

// ArtifactPath is the final location of key's artifact for sourceID.
func (e *Engine) ArtifactPath(sourceID, key string, format transform.Format) string {
	return filepath.Join(e.root, sourceDir(sourceID), artifactName(sourceID, key, format))
}

// ObjectKey is the slash-separated path of an artifact relative to the root.
func (e *Engine) ObjectKey(path string) string {
	rel, err := filepath.Rel(e.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(path))
	}
	return filepath.ToSlash(rel)
}

func (e *Engine) URL(path string) string {
	key := e.ObjectKey(path)
	if e.publicURL == "" {
		return "/" + key
	}
	return e.publicURL + "/" + key
}

// Staged is a temporary file next to its final artifact path.
type Staged struct {
	Temp  string
	Final string
}

func (e *Engine) Stage(sourceID, key string, format transform.Format) (Staged, error) {
	final := e.ArtifactPath(sourceID, key, format)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Staged{}, fmt.Errorf("create cache dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(final), filepath.Ext(final))+"-*.tmp")
	if err != nil {
		return Staged{}, fmt.Errorf("create staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return Staged{}, fmt.Errorf("close staging file: %w", err)
	}
	return Staged{Temp: f.Name(), Final: final}, nil
}

func (e *Engine) Discard(s Staged) {
	if s.Temp == "" {
		return
	}
	_ = os.Remove(s.Temp)
}

// Commit moves the staged file into place and records entry. Readers never
// see a partially written artifact.
func (e *Engine) Commit(ctx context.Context, s Staged, entry domain.CacheEntry, src domain.Source) (domain.CacheEntry, error) {
	if err := os.Rename(s.Temp, s.Final); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("commit artifact: %w", err)
	}

	now := e.now()
	modified := now
	if lm := src.LastModified(); lm.After(modified) {
		modified = lm
	}
	entry.Path = s.Final
	entry.CreatedAt = now
	entry.ModifiedAt = modified
	if entry.URL == "" {
		entry.URL = e.URL(s.Final)
	}

	if err := e.entries.Put(ctx, entry); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("record cache entry: %w", err)
	}
	return entry, nil
}

func (e *Engine) PurgeSource(ctx context.Context, sourceID string) (int, error) {
	removed, err := e.entries.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("purge source entries: %w", err)
	}
	e.removeArtifacts(removed)
	_ = os.Remove(filepath.Join(e.root, sourceDir(sourceID)))
	return len(removed), nil
}

func (e *Engine) PurgeAll(ctx context.Context) (int, error) {
	removed, err := e.entries.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge entries: %w", err)
	}
	e.removeArtifacts(removed)

	dirs, err := os.ReadDir(e.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return len(removed), fmt.Errorf("read cache root: %w", err)
	}
	for _, d := range dirs {
		if d.IsDir() {
			_ = os.RemoveAll(filepath.Join(e.root, d.Name()))
		}
	}
	return len(removed), nil
}

func (e *Engine) removeArtifacts(entries []domain.CacheEntry) {
	for _, entry := range entries {
		if entry.Path != "" {
			_ = os.Remove(entry.Path)
		}
	}
}
