// Package draft keeps a tutor's unsubmitted offer selection per learner and
// week, persisted in an injected key-value store so it survives navigation.
package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tutorslots/internal/domain"
	"tutorslots/internal/slots"
)

// Key identifies one draft: a learner and the Monday of a week.
type Key struct {
	LearnerID int64  `json:"learnerId"`
	Week      string `json:"week"` // YYYY-MM-DD, always a Monday
}

// NewKey anchors weekStart to its Monday.
func NewKey(learnerID int64, weekStart time.Time) Key {
	return Key{LearnerID: learnerID, Week: slots.WeekKey(weekStart)}
}

// String is the storage key.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.LearnerID, k.Week)
}

// WeekStart parses the week back into a time.
func (k Key) WeekStart() time.Time {
	t, _ := time.Parse(time.DateOnly, k.Week)
	return t
}

// Store is the key-value persistence used for drafts. Get reports false when
// the key is absent.
type Store interface {
	Get(ctx context.Context, key string) ([]domain.Slot, bool, error)
	Set(ctx context.Context, key string, selection []domain.Slot) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]domain.Slot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]domain.Slot)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]domain.Slot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]domain.Slot{}, v...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, selection []domain.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]domain.Slot{}, selection...)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
