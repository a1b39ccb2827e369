package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps users in process. Used with QUEUE_BACKEND=memory and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[int64]Record
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]Record), now: time.Now}
}

// Put stores rec as-is; handy for seeding.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[rec.ID] = cloneRecord(rec)
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, p Profile, defaultPriority int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[p.ID]
	if !ok {
		rec = Record{
			ID:              p.ID,
			Priority:        defaultPriority,
			Active:          true,
			OnboardingState: StateNone,
			CreatedAt:       s.now(),
		}
	}
	if p.FirstName != "" {
		rec.FirstName = p.FirstName
	}
	if p.Username != "" {
		rec.Username = p.Username
	}
	s.users[p.ID] = rec

	out := cloneRecord(rec)
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SetPriority(_ context.Context, id int64, priority int) error {
	if !ValidPriority(priority) {
		return fmt.Errorf("priority must be between %d and %d, got %d", MinPriority, MaxPriority, priority)
	}
	return s.update(id, func(r *Record) { r.Priority = priority })
}

func (s *MemoryStore) SetActive(_ context.Context, id int64, active bool) error {
	return s.update(id, func(r *Record) { r.Active = active })
}

func (s *MemoryStore) SetOnboardingState(_ context.Context, id int64, state OnboardingState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid onboarding state %q", state)
	}
	return s.update(id, func(r *Record) { r.OnboardingState = state })
}

func (s *MemoryStore) CompleteOnboarding(_ context.Context, id int64, bd BirthData) error {
	if !bd.Complete() {
		return errors.New("birth data is incomplete")
	}
	return s.update(id, func(r *Record) {
		r.BirthData = &bd
		r.OnboardingState = StateComplete
	})
}

func (s *MemoryStore) update(id int64, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(&rec)
	s.users[id] = rec
	return nil
}

func cloneRecord(r Record) Record {
	if r.BirthData != nil {
		bd := *r.BirthData
		r.BirthData = &bd
	}
	return r
}
