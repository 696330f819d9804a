package version

import (
	"context"
	"sync"

	"folio/internal/profile/models"
	id "folio/pkg/domain"
	"folio/pkg/platform/sentinel"
)

type ownerKey struct {
	owner id.OwnerID
	kind  models.VersionKind
}

// InMemory keeps versions in process memory. It enforces the same contract
// as the PostgreSQL store: one version per (owner, kind), and an optimistic
// revision check on every update so lost updates surface as ErrConflict
// instead of silently dropping merged changed-field sets.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[id.VersionID]*models.Version
	byOwner map[ownerKey]*models.Version
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[id.VersionID]*models.Version),
		byOwner: make(map[ownerKey]*models.Version),
	}
}

func (s *InMemory) FindByID(_ context.Context, versionID id.VersionID) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byID[versionID]; ok {
		return v.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByOwner(_ context.Context, owner id.OwnerID, kind models.VersionKind) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byOwner[ownerKey{owner, kind}]; ok {
		return v.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

// Create stores a new version. Returns ErrConflict if a version of the same
// kind already exists for the owner (the workflow should have found it).
func (s *InMemory) Create(_ context.Context, v *models.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey{v.OwnerID, v.Kind}
	if _, exists := s.byOwner[key]; exists {
		return sentinel.ErrConflict
	}
	v.Revision = 1
	stored := v.Clone()
	s.byID[stored.ID] = stored
	s.byOwner[key] = stored
	return nil
}

// Update persists a modified version. The caller's revision must match the
// stored one; on success the revision is bumped on both copies.
func (s *InMemory) Update(_ context.Context, v *models.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[v.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Revision != v.Revision {
		return sentinel.ErrConflict
	}
	v.Revision++
	stored := v.Clone()
	s.byID[stored.ID] = stored
	s.byOwner[ownerKey{stored.OwnerID, stored.Kind}] = stored
	return nil
}
