package store

import (
	"context"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.GenerateJob) error
	Get(ctx context.Context, id string) (domain.GenerateJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.GenerateJob, error)
	Finish(ctx context.Context, id, status string, generated, failed int) (domain.GenerateJob, error)
}
