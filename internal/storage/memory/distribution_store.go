package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

type distributionKey struct {
	paymentID string
	holder    string
}

// DistributionStore is an in-memory implementation of storage.DistributionStore.
type DistributionStore struct {
	mu   sync.RWMutex
	data map[distributionKey]*domain.DistributionRecord
}

// NewDistributionStore creates a new in-memory distribution store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		data: make(map[distributionKey]*domain.DistributionRecord),
	}
}

// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate.
func (s *DistributionStore) InsertBulk(_ context.Context, records []*domain.DistributionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[distributionKey]struct{}, len(records))

	// First pass: check for duplicates (existing + intra-batch)
	for _, r := range records {
		if r == nil || r.PaymentID == "" || r.Holder == "" {
			return storage.ErrInvalidInput
		}

		key := distributionKey{paymentID: r.PaymentID, holder: r.Holder}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range records {
		recordCopy := *r
		s.data[distributionKey{paymentID: r.PaymentID, holder: r.Holder}] = &recordCopy
	}

	return nil
}

// GetByPayment retrieves all records of a payment, ordered by seq ASC.
func (s *DistributionStore) GetByPayment(_ context.Context, paymentID string) ([]*domain.DistributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DistributionRecord
	for key, r := range s.data {
		if key.paymentID == paymentID {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// GetByHolder retrieves all records of a holder for an asset.
func (s *DistributionStore) GetByHolder(_ context.Context, assetID, holder string) ([]*domain.DistributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DistributionRecord
	for key, r := range s.data {
		if key.holder == holder && r.AssetID == assetID {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		if result[i].PaymentID != result[j].PaymentID {
			return result[i].PaymentID < result[j].PaymentID
		}
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// MarkClaimed flips claimed from false to true.
func (s *DistributionStore) MarkClaimed(_ context.Context, paymentID, holder string, claimedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[distributionKey{paymentID: paymentID, holder: holder}]
	if !ok {
		return storage.ErrNotFound
	}
	if r.Claimed {
		return storage.ErrAlreadyClaimed
	}
	r.Claimed = true
	r.ClaimedAt = claimedAt
	return nil
}

var _ storage.DistributionStore = (*DistributionStore)(nil)
