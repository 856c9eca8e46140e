package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetSnapshot // keyed by asset_id
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		data: make(map[string]*domain.AssetSnapshot),
	}
}

// Save upserts the snapshot unless a newer version is already stored.
func (s *AssetStore) Save(_ context.Context, snap *domain.AssetSnapshot) error {
	if snap == nil || snap.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data[snap.AssetID]; ok && existing.Version > snap.Version {
		return nil
	}
	s.data[snap.AssetID] = copySnapshot(snap)
	return nil
}

// Get retrieves the latest snapshot of an asset. Returns ErrNotFound if not exists.
func (s *AssetStore) Get(_ context.Context, assetID string) (*domain.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(snap), nil
}

// List retrieves all snapshots, ordered by asset_id ASC.
func (s *AssetStore) List(_ context.Context) ([]*domain.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AssetSnapshot, 0, len(s.data))
	for _, snap := range s.data {
		result = append(result, copySnapshot(snap))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})

	return result, nil
}

func copySnapshot(snap *domain.AssetSnapshot) *domain.AssetSnapshot {
	c := *snap
	c.Balances = append([]domain.HolderBalance(nil), snap.Balances...)
	return &c
}

var _ storage.AssetStore = (*AssetStore)(nil)
