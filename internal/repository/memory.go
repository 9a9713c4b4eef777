package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/stemsi/savetest-backend/internal/model"
)

// MemoryStore keeps attempts and task settings in process. It backs
// STORE_BACKEND=memory and the unit tests, and mirrors the PostgreSQL
// repositories' semantics.
type MemoryStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	nextID   int64
	attempts map[int64]*model.Attempt
	settings map[int64]*model.TaskTestSettings
}

// NewMemoryStore creates an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clock.New())
}

// NewMemoryStoreWithClock creates an empty store stamped by clk.
func NewMemoryStoreWithClock(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:    clk,
		attempts: make(map[int64]*model.Attempt),
		settings: make(map[int64]*model.TaskTestSettings),
	}
}

func (s *MemoryStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.clock.Now()
	a.ID = s.nextID
	a.Seq = s.nextID
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := *a
	s.attempts[a.ID] = &stored
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// sorted returns copies of all attempts matching keep, newest first under o.
// Assumes the lock.
func (s *MemoryStore) sorted(o model.Ordering, keep func(*model.Attempt) bool) []model.Attempt {
	out := make([]model.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if o == model.OrderByCreatedAt && !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func (s *MemoryStore) Latest(_ context.Context, q model.LatestQuery) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := s.sorted(q.OrderBy, func(a *model.Attempt) bool {
		if q.TaskID != nil && a.TaskID != *q.TaskID {
			return false
		}
		return !q.CompletedOnly || a.State.Completed()
	})
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	return &matches[0], nil
}

func (s *MemoryStore) List(_ context.Context, f model.AttemptFilter) ([]model.Attempt, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := s.sorted(model.OrderBySeq, func(a *model.Attempt) bool {
		if f.TaskID != nil && a.TaskID != *f.TaskID {
			return false
		}
		return f.Completed == nil || a.State.Completed() == *f.Completed
	})
	total := int64(len(matches))

	if f.Limit > 0 {
		if f.Offset >= len(matches) {
			return nil, total, nil
		}
		end := f.Offset + f.Limit
		if end > len(matches) {
			end = len(matches)
		}
		matches = matches[f.Offset:end]
	}
	return matches, total, nil
}

func (s *MemoryStore) Update(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.attempts[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.Seq = existing.Seq
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.clock.Now()

	stored := *a
	s.attempts[a.ID] = &stored
	return nil
}

func (s *MemoryStore) SetState(_ context.Context, id int64, state model.AttemptState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || a.State.Completed() {
		return ErrNotFound
	}
	a.State = state
	a.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) UpdateExamData(_ context.Context, id int64, data model.ExamData) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.ExamData = data
	a.UpdatedAt = s.clock.Now()
	out := *a
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[id]; !ok {
		return ErrNotFound
	}
	delete(s.attempts, id)
	return nil
}

// Count returns the number of stored attempts.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Settings returns a view of the store that serves task test settings.
func (s *MemoryStore) Settings() *MemorySettings {
	return &MemorySettings{store: s}
}

// MemorySettings is the task-settings half of a MemoryStore.
type MemorySettings struct {
	store *MemoryStore
}

func (m *MemorySettings) Get(_ context.Context, taskID int64) (*model.TaskTestSettings, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s, ok := m.store.settings[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemorySettings) Upsert(_ context.Context, s *model.TaskTestSettings) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s.UpdatedAt = m.store.clock.Now()
	stored := *s
	m.store.settings[s.TaskID] = &stored
	return nil
}
