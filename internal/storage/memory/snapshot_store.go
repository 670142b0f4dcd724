package memory

import (
	"context"
	"sort"
	"sync"

	"token-dex-lab/internal/domain"
	"token-dex-lab/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu        sync.RWMutex
	pools     map[string]*domain.Pool
	positions map[string][]*domain.LPPosition // keyed by pool_id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		pools:     make(map[string]*domain.Pool),
		positions: make(map[string][]*domain.LPPosition),
	}
}

// SavePool upserts a pool snapshot and replaces its positions.
func (s *SnapshotStore) SavePool(_ context.Context, p *domain.Pool, positions []*domain.LPPosition) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}
	for _, pos := range positions {
		if pos == nil || pos.PoolID != p.PoolID || pos.ProviderID == "" {
			return storage.ErrInvalidInput
		}
	}

	cps := make([]*domain.LPPosition, 0, len(positions))
	for _, pos := range positions {
		cp := *pos
		cps = append(cps, &cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].ProviderID < cps[j].ProviderID })

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[p.PoolID] = p.Clone()
	s.positions[p.PoolID] = cps
	return nil
}

// GetPool retrieves a pool snapshot. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetPool(_ context.Context, poolID string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.pools[poolID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// GetPositions retrieves positions for a pool, ordered by provider_id ASC.
func (s *SnapshotStore) GetPositions(_ context.Context, poolID string) ([]*domain.LPPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LPPosition
	for _, pos := range s.positions[poolID] {
		cp := *pos
		result = append(result, &cp)
	}
	return result, nil
}

// ListPoolIDs returns all snapshotted pool IDs, sorted ASC.
func (s *SnapshotStore) ListPoolIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.pools))
	for id := range s.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
