package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// DistributionRunStore is an in-memory implementation of storage.DistributionRunStore.
type DistributionRunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DistributionRun
}

// NewDistributionRunStore creates a new in-memory distribution run store.
func NewDistributionRunStore() *DistributionRunStore {
	return &DistributionRunStore{
		data: make(map[string]*domain.DistributionRun),
	}
}

// Save upserts the run. The stored holder snapshot is kept while the run is
// pending and dropped once it is done.
func (s *DistributionRunStore) Save(_ context.Context, r *domain.DistributionRun) error {
	if r == nil || r.PaymentID == "" || r.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runCopy := copyRun(r)
	if existing, ok := s.data[r.PaymentID]; ok {
		if existing.AssetID != r.AssetID {
			return storage.ErrInvalidInput
		}
		if existing.Holders != nil {
			runCopy.Holders = existing.Holders
		}
		runCopy.CreatedAt = existing.CreatedAt
	}
	if runCopy.Done {
		runCopy.Holders = nil
	}
	s.data[r.PaymentID] = runCopy
	return nil
}

// Get retrieves the run of a payment.
func (s *DistributionRunStore) Get(_ context.Context, paymentID string) (*domain.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[paymentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRun(r), nil
}

// ListPending retrieves runs that are not done, ordered by created_at ASC, payment_id ASC.
func (s *DistributionRunStore) ListPending(_ context.Context) ([]*domain.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DistributionRun
	for _, r := range s.data {
		if !r.Done {
			result = append(result, copyRun(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].PaymentID < result[j].PaymentID
	})

	return result, nil
}

func copyRun(r *domain.DistributionRun) *domain.DistributionRun {
	runCopy := *r
	if r.Holders != nil {
		runCopy.Holders = append([]domain.HolderBalance(nil), r.Holders...)
	}
	return &runCopy
}

var _ storage.DistributionRunStore = (*DistributionRunStore)(nil)
