package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// ZapSink writes every event as a structured log line.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink logging at info level.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("events")}
}

func (s *ZapSink) Name() string { return "zap" }

func (s *ZapSink) Append(_ context.Context, e *domain.LedgerEvent) error {
	fields := make([]zap.Field, 0, 6+len(e.Attrs))
	fields = append(fields,
		zap.Uint64("seq", e.Seq),
		zap.String("asset_id", e.AssetID),
		zap.String("actor", e.Actor),
		zap.String("ref_id", e.RefID),
		zap.Int64("ts", e.Timestamp),
	)
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, e.Attrs[k]))
	}
	s.logger.Info(string(e.Kind), fields...)
	return nil
}

// MemorySink keeps every event in memory.
type MemorySink struct {
	mu     sync.RWMutex
	events []domain.LedgerEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Append(_ context.Context, e *domain.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// Events returns all events in sequence order.
func (s *MemorySink) Events() []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LedgerEvent(nil), s.events...)
}

// ByKind returns the events of one kind in sequence order.
func (s *MemorySink) ByKind(kind domain.EventKind) []domain.LedgerEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEvent
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// StoreSink buffers events and writes them to an EventStore in batches.
type StoreSink struct {
	store     storage.EventStore
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	pending []*domain.LedgerEvent
}

// NewStoreSink creates a sink flushing every batchSize events. A
// batchSize below 1 flushes on every event.
func NewStoreSink(store storage.EventStore, batchSize int, logger *zap.Logger) *StoreSink {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, batchSize: batchSize, logger: logger.Named("event_store_sink")}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Append(ctx context.Context, e *domain.LedgerEvent) error {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered events. On failure the batch is kept and
// retried on the next flush.
func (s *StoreSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	if err := s.store.InsertBulk(ctx, s.pending); err != nil {
		return fmt.Errorf("insert %d events: %w", len(s.pending), err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (s *StoreSink) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// use a fresh context so the final batch is not lost to cancellation
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Flush(flushCtx)
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("periodic event flush failed", zap.Error(err))
			}
		}
	}
}

// Pending returns the number of buffered events.
func (s *StoreSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
