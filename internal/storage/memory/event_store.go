package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[uint64]*domain.LedgerEvent // keyed by seq
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[uint64]*domain.LedgerEvent),
	}
}

// InsertBulk appends events. Fails entire batch on duplicate seq.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[uint64]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.Seq == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.Seq] = struct{}{}
	}

	for _, e := range events {
		s.data[e.Seq] = copyEvent(e)
	}
	return nil
}

// GetByAsset retrieves events of an asset within [start, end] (inclusive).
func (s *EventStore) GetByAsset(_ context.Context, assetID string, start, end int64) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.AssetID == assetID && e.Timestamp >= start && e.Timestamp <= end {
			result = append(result, copyEvent(e))
		}
	}
	sortEvents(result)
	return result, nil
}

// GetByRef retrieves events referencing a payment or proposal.
func (s *EventStore) GetByRef(_ context.Context, refID string) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.RefID == refID {
			result = append(result, copyEvent(e))
		}
	}
	sortEvents(result)
	return result, nil
}

// MaxSeq returns the highest stored seq, 0 when empty.
func (s *EventStore) MaxSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max uint64
	for seq := range s.data {
		if seq > max {
			max = seq
		}
	}
	return max, nil
}

func copyEvent(e *domain.LedgerEvent) *domain.LedgerEvent {
	c := *e
	c.Attrs = make(map[string]string, len(e.Attrs))
	for k, v := range e.Attrs {
		c.Attrs[k] = v
	}
	return &c
}

func sortEvents(events []*domain.LedgerEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
}

var _ storage.EventStore = (*EventStore)(nil)
