package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelforge/internal/domain"
)

const entrySchemaSQL = `
CREATE TABLE IF NOT EXISTS transform_cache_entries (
	cache_key TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	revision TEXT NOT NULL,
	backend TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	size BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	format TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	modified_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transform_cache_entries_source_idx ON transform_cache_entries (source_id);
`

const entryColumns = `cache_key, source_id, revision, backend, path, url, width, height, size, mime_type, format, created_at, modified_at`

type PostgresEntryStore struct {
	db *sql.DB
}

func NewPostgresEntryStore(ctx context.Context, db *sql.DB) (*PostgresEntryStore, error) {
	store := &PostgresEntryStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresEntryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, entrySchemaSQL); err != nil {
		return fmt.Errorf("ensure transform_cache_entries schema: %w", err)
	}
	return nil
}

func (s *PostgresEntryStore) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM transform_cache_entries WHERE cache_key = $1`, key)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresEntryStore) Put(ctx context.Context, e domain.CacheEntry) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transform_cache_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (cache_key) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			revision = EXCLUDED.revision,
			backend = EXCLUDED.backend,
			path = EXCLUDED.path,
			url = EXCLUDED.url,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			size = EXCLUDED.size,
			mime_type = EXCLUDED.mime_type,
			format = EXCLUDED.format,
			modified_at = EXCLUDED.modified_at`,
		e.Key, e.SourceID, e.Revision, e.Backend, e.Path, e.URL,
		e.Width, e.Height, e.Size, e.MimeType, e.Format, e.CreatedAt, e.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *PostgresEntryStore) DeleteBySource(ctx context.Context, sourceID string) ([]domain.CacheEntry, error) {
	return s.deleteReturning(ctx, `DELETE FROM transform_cache_entries WHERE source_id = $1 RETURNING `+entryColumns, sourceID)
}

func (s *PostgresEntryStore) DeleteAll(ctx context.Context) ([]domain.CacheEntry, error) {
	return s.deleteReturning(ctx, `DELETE FROM transform_cache_entries RETURNING `+entryColumns)
}

func (s *PostgresEntryStore) deleteReturning(ctx context.Context, query string, args ...any) ([]domain.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete cache entries: %w", err)
	}
	defer rows.Close()

	var removed []domain.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deleted cache entry: %w", err)
		}
		removed = append(removed, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted cache entries: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.CacheEntry, error) {
	var e domain.CacheEntry
	err := row.Scan(
		&e.Key, &e.SourceID, &e.Revision, &e.Backend, &e.Path, &e.URL,
		&e.Width, &e.Height, &e.Size, &e.MimeType, &e.Format, &e.CreatedAt, &e.ModifiedAt,
	)
	return e, err
}
