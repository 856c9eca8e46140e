package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// PaymentStore is an in-memory implementation of storage.PaymentStore.
type PaymentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PaymentRecord // keyed by payment_id
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{
		data: make(map[string]*domain.PaymentRecord),
	}
}

// Insert adds a new payment. Returns ErrDuplicateKey if payment_id exists.
func (s *PaymentStore) Insert(_ context.Context, p *domain.PaymentRecord) error {
	if p == nil || p.PaymentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PaymentID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	paymentCopy := *p
	s.data[p.PaymentID] = &paymentCopy
	return nil
}

// GetByID retrieves a payment. Returns ErrNotFound if not exists.
func (s *PaymentStore) GetByID(_ context.Context, paymentID string) (*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[paymentID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	paymentCopy := *p
	return &paymentCopy, nil
}

// GetByAsset retrieves all payments of an asset, ordered by timestamp ASC.
func (s *PaymentStore) GetByAsset(_ context.Context, assetID string) ([]*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PaymentRecord
	for _, p := range s.data {
		if p.AssetID == assetID {
			paymentCopy := *p
			result = append(result, &paymentCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].PaymentID < result[j].PaymentID
	})

	return result, nil
}

var _ storage.PaymentStore = (*PaymentStore)(nil)
