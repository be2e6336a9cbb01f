package store

import (
	"context"
	"sync"

	"profilegate/internal/profile/models"
	id "profilegate/pkg/domain"
)

// InMemoryStore keeps profiles in insertion order for tests and local runs.
// Duplicate rows for one user are allowed, as in the real table.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows []*models.Profile
}

// NewInMemory constructs an empty in-memory profile store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

// Add appends a row. Later rows come after earlier ones in ListByUser.
func (s *InMemoryStore) Add(p *models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.rows = append(s.rows, &cp)
}

// ListByUser returns copies of every row for userID, in insertion order.
func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Profile, 0)
	for _, p := range s.rows {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeleteByUser drops every row for userID.
func (s *InMemoryStore) DeleteByUser(_ context.Context, userID id.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	for _, p := range s.rows {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	s.rows = kept
}
