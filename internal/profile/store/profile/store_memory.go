package profile

import (
	"context"
	"sync"

	"folio/internal/profile/models"
	id "folio/pkg/domain"
	"folio/pkg/platform/sentinel"
)

// InMemory keeps live profiles in process memory.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.OwnerID]*models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.OwnerID]*models.Profile)}
}

func (s *InMemory) FindByOwner(_ context.Context, owner id.OwnerID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[owner]; ok {
		return p.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Create(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.OwnerID]; exists {
		return sentinel.ErrConflict
	}
	s.profiles[p.OwnerID] = p.Clone()
	return nil
}

func (s *InMemory) Update(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.OwnerID]; !ok {
		return sentinel.ErrNotFound
	}
	s.profiles[p.OwnerID] = p.Clone()
	return nil
}
