package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage/memory"
)

type failingSink struct{ calls int }

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) Append(context.Context, *domain.LedgerEvent) error {
	s.calls++
	return errors.New("sink down")
}

func TestLog_AssignsSequence(t *testing.T) {
	sink := NewMemorySink()
	log := New(Options{StartSeq: 10, Clock: func() int64 { return 42 }, Sinks: []Sink{sink}})
	ctx := context.Background()

	first := log.Emit(ctx, domain.LedgerEvent{Kind: domain.EventPaymentProcessed, AssetID: "a"})
	second := log.Emit(ctx, domain.LedgerEvent{Kind: domain.EventYieldDistributed, AssetID: "a", Timestamp: 7})

	assert.Equal(t, uint64(11), first.Seq)
	assert.Equal(t, uint64(12), second.Seq)
	assert.Equal(t, int64(42), first.Timestamp)
	assert.Equal(t, int64(7), second.Timestamp)
	assert.Equal(t, uint64(12), log.Seq())

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPaymentProcessed, events[0].Kind)
	assert.Len(t, sink.ByKind(domain.EventYieldDistributed), 1)
}

func TestLog_SinkFailureDoesNotStopFanOut(t *testing.T) {
	bad := &failingSink{}
	good := NewMemorySink()
	log := New(Options{Sinks: []Sink{bad, good}})

	log.Emit(context.Background(), domain.LedgerEvent{Kind: domain.EventProposalCreated})

	assert.Equal(t, 1, bad.calls)
	assert.Len(t, good.Events(), 1)
}

func TestLog_AttrsIsolatedPerSink(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	log := New(Options{Sinks: []Sink{a, b}})

	attrs := map[string]string{"amount": "1"}
	log.Emit(context.Background(), domain.LedgerEvent{Kind: domain.EventYieldClaimed, Attrs: attrs})
	attrs["amount"] = "2"

	assert.Equal(t, "1", a.Events()[0].Attrs["amount"])
	assert.Equal(t, "1", b.Events()[0].Attrs["amount"])
}

func TestStoreSink_Batches(t *testing.T) {
	store := memory.NewEventStore()
	sink := NewStoreSink(store, 3, nil)
	log := New(Options{Sinks: []Sink{sink}})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		log.Emit(ctx, domain.LedgerEvent{Kind: domain.EventAssetRegistered, AssetID: "a", Timestamp: int64(i + 1)})
	}

	maxSeq, err := store.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), maxSeq)
	assert.Equal(t, 1, sink.Pending())

	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, 0, sink.Pending())

	stored, err := store.GetByAsset(ctx, "a", 0, 100)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestStoreSink_RunFlushesOnShutdown(t *testing.T) {
	store := memory.NewEventStore()
	sink := NewStoreSink(store, 100, nil)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, sink.Append(ctx, &domain.LedgerEvent{Seq: 1, AssetID: "a"}))
	cancel()
	require.NoError(t, sink.Run(ctx, time.Second))

	got, err := store.GetByRef(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(1)
	log := New(Options{Sinks: []Sink{b}})
	ctx := context.Background()

	all, cancelAll := b.Subscribe("")
	onlyB, cancelB := b.Subscribe("b")
	assert.Equal(t, 2, b.Subscribers())

	log.Emit(ctx, domain.LedgerEvent{Kind: domain.EventAssetRegistered, AssetID: "a"})
	// buffer of one: this one is dropped for the catch-all subscriber
	log.Emit(ctx, domain.LedgerEvent{Kind: domain.EventAssetRegistered, AssetID: "b"})

	got := <-all
	assert.Equal(t, "a", got.AssetID)
	gotB := <-onlyB
	assert.Equal(t, "b", gotB.AssetID)

	cancelAll()
	cancelB()
	cancelB()
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-all
	assert.False(t, open)
}
