package engine

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/dispatch"
	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/governance"
	"fractional-ledger/internal/intake"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/principal"
)

func addr(seed byte) string {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return principal.Encode(key.Public().(ed25519.PublicKey))
}

var (
	admin = addr(1)
	alice = addr(2)
	bob   = addr(3)
	carol = addr(4)
)

type harness struct {
	now    int64
	stores Stores
	rec    *dispatch.Recorder
}

func (h *harness) open(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), Options{
		Stores:             h.stores,
		Payer:              h.rec,
		Dispatcher:         h.rec,
		IntakePrincipal:    "intake",
		AdminPrincipal:     admin,
		SettlementCurrency: "USD",
		ThresholdBps:       1000,
		VotingPeriod:       time.Hour,
		Clock:              func() int64 { return h.now },
	})
	require.NoError(t, err)
	return e
}

func newHarness() *harness {
	return &harness{now: 1704067200000, stores: MemoryStores(), rec: dispatch.NewRecorder(nil)}
}

func balance(t *testing.T, e *Engine, holder string) uint64 {
	t.Helper()
	b, err := e.Ledger.Balance(context.Background(), "asset-1", holder)
	require.NoError(t, err)
	return b.Uint64()
}

func TestEngine_Lifecycle(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	ctx := context.Background()

	_, err := e.RegisterAsset(ctx, bob, "asset-1", nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.RegisterAsset(ctx, admin, "asset-1", []ledger.Allocation{
		{Holder: alice, Amount: *uint256.NewInt(400)},
		{Holder: bob, Amount: *uint256.NewInt(600)},
	})
	require.NoError(t, err)

	_, err = e.RegisterAsset(ctx, admin, "asset-2", []ledger.Allocation{
		{Holder: "not-an-address", Amount: *uint256.NewInt(1)},
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	receipt, err := e.Intake.Process(ctx, intake.Payment{
		AssetID: "asset-1", Payer: "tenant", Amount: uint256.NewInt(1000), Currency: "USD",
	})
	require.NoError(t, err)
	paid := map[string]uint64{}
	for _, po := range h.rec.Payouts() {
		paid[po.Holder] += po.Amount.Uint64()
	}
	assert.Equal(t, map[string]uint64{alice: 400, bob: 600}, paid)

	_, err = e.Pools.CreatePool(ctx, admin, "asset-1", uint256.NewInt(1000), uint256.NewInt(1000), 0)
	require.NoError(t, err)
	trade, err := e.Pools.AcquireTokens(ctx, carol, "asset-1", uint256.NewInt(100), uint256.NewInt(1))
	require.NoError(t, err)
	supply, err := e.Ledger.TotalSupply(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, 1000+trade.TokenAmount.Uint64(), supply.Uint64())

	prop, err := e.Governance.CreateProposal(ctx, bob, governance.ProposalInput{
		AssetID: "asset-1", Description: "sell", TargetRef: "escrow", Payload: []byte("{}"),
	})
	require.NoError(t, err)
	_, err = e.Governance.CastVote(ctx, bob, prop.ProposalID, domain.VoteYes)
	require.NoError(t, err)
	h.now += time.Hour.Milliseconds()
	_, err = e.Governance.Finalize(ctx, alice, prop.ProposalID)
	require.NoError(t, err)
	_, err = e.Governance.ExecuteProposal(ctx, alice, prop.ProposalID)
	require.NoError(t, err)
	require.Len(t, h.rec.Orders(), 1)

	require.NoError(t, e.Flush(ctx))
	maxSeq, err := h.stores.Events.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.Events.Seq(), maxSeq)

	events, err := h.stores.Events.GetByRef(ctx, receipt.Record.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentProcessed, events[0].Kind)

	status := e.Status()
	assert.Equal(t, 1, status.Assets)
	assert.Equal(t, 1, status.Pools)
	assert.Zero(t, status.PendingEvents)

	// A second engine over the same stores sees the same state.
	restored := h.open(t)
	assert.Equal(t, uint64(400), balance(t, restored, alice))
	assert.Equal(t, trade.TokenAmount.Uint64(), balance(t, restored, carol))

	pool, err := restored.Pools.Pool("asset-1")
	require.NoError(t, err)
	assert.Equal(t, trade.PoolAfter.ReserveBase, pool.ReserveBase)

	p, err := restored.Governance.Proposal(prop.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalExecuted, p.State)
	_, err = restored.Governance.ExecuteProposal(ctx, alice, prop.ProposalID)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)

	assert.Equal(t, e.Events.Seq(), restored.Events.Seq())
	next := restored.Events.Emit(ctx, domain.LedgerEvent{Kind: domain.EventAssetRegistered, AssetID: "asset-1"})
	assert.Equal(t, maxSeq+1, next.Seq)
}

func TestEngine_Deactivate(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	ctx := context.Background()

	_, err := e.RegisterAsset(ctx, admin, "asset-1", []ledger.Allocation{{Holder: alice, Amount: *uint256.NewInt(10)}})
	require.NoError(t, err)

	require.ErrorIs(t, e.DeactivateAsset(ctx, alice, "asset-1"), domain.ErrUnauthorized)
	require.NoError(t, e.DeactivateAsset(ctx, admin, "asset-1"))
	_, err = e.Governance.CreateProposal(ctx, alice, governance.ProposalInput{
		AssetID: "asset-1", Description: "sell", TargetRef: "escrow", Payload: []byte("{}"),
	})
	require.ErrorIs(t, err, domain.ErrAssetInactive)
}

func TestEngine_RestoreFinishesDistribution(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	ctx := context.Background()

	_, err := e.RegisterAsset(ctx, admin, "asset-1", []ledger.Allocation{
		{Holder: alice, Amount: *uint256.NewInt(400000)},
		{Holder: bob, Amount: *uint256.NewInt(600000)},
	})
	require.NoError(t, err)

	rec := &domain.PaymentRecord{
		PaymentID: "pay-1", AssetID: "asset-1", Payer: "tenant", Currency: "USD",
		Amount: *uint256.NewInt(1001), ConvertedAmount: *uint256.NewInt(1001), Timestamp: h.now,
	}
	require.NoError(t, h.stores.Payments.Insert(ctx, rec))
	first, err := e.Distributor.Distribute(ctx, "intake", distribution.Request{
		AssetID: "asset-1", PaymentID: "pay-1", Amount: &rec.ConvertedAmount, MaxBatch: 1,
	})
	require.NoError(t, err)
	require.False(t, first.Done())

	// the process stops here; the next one finishes the run on start
	restored := h.open(t)
	run, err := restored.Distributor.Run(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, run.Done)

	paid := map[string]uint64{}
	for _, po := range h.rec.Payouts() {
		paid[po.Holder] += po.Amount.Uint64()
	}
	assert.Equal(t, map[string]uint64{alice: 400, bob: 600}, paid)

	snap, err := restored.Ledger.Snapshot(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Dust.Uint64())
}

func TestEngine_FeedReceivesEvents(t *testing.T) {
	h := newHarness()
	e := h.open(t)
	ctx := context.Background()

	ch, cancel := e.Feed.Subscribe("asset-1")
	defer cancel()

	_, err := e.RegisterAsset(ctx, admin, "asset-1", []ledger.Allocation{{Holder: alice, Amount: *uint256.NewInt(10)}})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, domain.EventAssetRegistered, ev.Kind)
		assert.Equal(t, "10", ev.Attrs["total_supply"])
	case <-time.After(time.Second):
		t.Fatal("no event on feed")
	}
}
