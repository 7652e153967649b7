package runs

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]models.Run
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.Run)}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[run.ID]; ok && cur.State.Terminal() {
		return models.ErrRunFinished
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, datasetID string, limit int) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Run
	for _, run := range s.runs {
		if datasetID == "" || run.DatasetID == datasetID {
			out = append(out, run)
		}
	}
	slices.SortFunc(out, func(a, b models.Run) int {
		return b.ScheduledAt.Compare(a.ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimScheduled(_ context.Context, now time.Time) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.Run
	for _, run := range s.runs {
		if run.State != models.RunScheduled {
			continue
		}
		if next == nil || run.ScheduledAt.Before(next.ScheduledAt) {
			r := run
			next = &r
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = models.RunRunning
	next.StartedAt = &now
	s.runs[next.ID] = *next
	return next, nil
}
