package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelforge/internal/domain"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS generate_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	volume TEXT NOT NULL,
	paths JSONB NOT NULL,
	transforms JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	generated INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, db *sql.DB) (*PostgresJobStore, error) {
	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure generate_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.GenerateJob) error {
	pathsJSON, err := json.Marshal(job.Paths)
	if err != nil {
		return fmt.Errorf("marshal job paths: %w", err)
	}
	transformsJSON, err := json.Marshal(job.Transforms)
	if err != nil {
		return fmt.Errorf("marshal job transforms: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO generate_jobs (id, status, volume, paths, transforms, webhook_url, generated, failed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID,
		job.Status,
		job.Volume,
		pathsJSON,
		transformsJSON,
		job.WebhookURL,
		job.Generated,
		job.Failed,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generate job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.GenerateJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, volume, paths, transforms, webhook_url, generated, failed, created_at, updated_at
		 FROM generate_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job            domain.GenerateJob
		pathsJSON      []byte
		transformsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Volume,
		&pathsJSON,
		&transformsJSON,
		&job.WebhookURL,
		&job.Generated,
		&job.Failed,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GenerateJob{}, false, nil
		}
		return domain.GenerateJob{}, false, fmt.Errorf("query generate job: %w", err)
	}

	if err := json.Unmarshal(pathsJSON, &job.Paths); err != nil {
		return domain.GenerateJob{}, false, fmt.Errorf("unmarshal job paths: %w", err)
	}
	if err := json.Unmarshal(transformsJSON, &job.Transforms); err != nil {
		return domain.GenerateJob{}, false, fmt.Errorf("unmarshal job transforms: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.GenerateJob, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE generate_jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.GenerateJob{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id)
}

func (s *PostgresJobStore) Finish(ctx context.Context, id, status string, generated, failed int) (domain.GenerateJob, error) {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE generate_jobs
		 SET status = $1, generated = $2, failed = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		generated,
		failed,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.GenerateJob{}, fmt.Errorf("finish generate job: %w", err)
	}
	return s.reload(ctx, id)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string) (domain.GenerateJob, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.GenerateJob{}, err
	}
	if !ok {
		return domain.GenerateJob{}, ErrJobNotFound
	}
	return job, nil
}
