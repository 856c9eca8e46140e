package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by asset_id
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// Upsert stores the current state of a pool. created_at is kept from the first insert.
func (s *PoolStore) Upsert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolCopy := *p
	if existing, ok := s.data[p.AssetID]; ok {
		poolCopy.CreatedAt = existing.CreatedAt
	}
	s.data[p.AssetID] = &poolCopy
	return nil
}

// Get retrieves the pool of an asset. Returns ErrNotFound if not exists.
func (s *PoolStore) Get(_ context.Context, assetID string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

// List retrieves all pools, ordered by asset_id ASC.
func (s *PoolStore) List(_ context.Context) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0, len(s.data))
	for _, p := range s.data {
		poolCopy := *p
		result = append(result, &poolCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})

	return result, nil
}

var _ storage.PoolStore = (*PoolStore)(nil)
