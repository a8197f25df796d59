// Package memory provides the in-memory job status store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/snapshot"
)

// Store tracks job lifecycle state in process memory. Mutations are
// serialized under one lock; reads may run concurrently.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]snapshot.Job
	logger *zap.Logger
}

// New constructs a Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		jobs:   make(map[string]snapshot.Job),
		logger: logger,
	}
}

// Register creates the entry in pending state. It must be called before the
// message that could trigger a transition is published.
func (s *Store) Register(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %s already registered", id)
	}
	s.jobs[id] = snapshot.Job{
		ID:        id,
		URL:       url,
		Status:    snapshot.StatusPending,
		Submitted: time.Now().UTC(),
	}
	return nil
}

// Transition moves a job to a terminal status. An unknown id is a logged
// no-op, and a job already in a terminal state is never moved again.
func (s *Store) Transition(_ context.Context, id string, status snapshot.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		s.logger.Warn("status update for unknown job", zap.String("job_id", id))
		return nil
	}
	if job.Status.Terminal() {
		s.logger.Warn("status update for terminal job ignored",
			zap.String("job_id", id),
			zap.String("current", string(job.Status)),
			zap.String("requested", string(status)))
		return nil
	}
	job.Status = status
	s.jobs[id] = job
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(_ context.Context, id string) (snapshot.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return snapshot.Job{}, snapshot.ErrNotFound
	}
	return job, nil
}

// List returns all tracked jobs in unspecified order.
func (s *Store) List(_ context.Context) ([]snapshot.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]snapshot.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}
