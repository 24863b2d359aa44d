package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dunamismax/pixelforge/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.GenerateJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.GenerateJob),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.GenerateJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.GenerateJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.GenerateJob, error) {
	return s.update(id, func(job *domain.GenerateJob) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(_ context.Context, id, status string, generated, failed int) (domain.GenerateJob, error) {
	return s.update(id, func(job *domain.GenerateJob) {
		job.Status = status
		job.Generated = generated
		job.Failed = failed
	})
}

func (s *MemoryJobStore) update(id string, fn func(*domain.GenerateJob)) (domain.GenerateJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerateJob{}, ErrJobNotFound
	}

	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}
