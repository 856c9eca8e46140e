package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/storage"
	"fractional-ledger/internal/storage/memory"
)

const intake = "intake-principal"

// fakePayer fails payouts for holders listed in fail.
type fakePayer struct {
	mu   sync.Mutex
	fail map[string]bool
	paid []Payout
}

func (p *fakePayer) Pay(_ context.Context, po Payout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[po.Holder] {
		return errors.New("bank rejected transfer")
	}
	p.paid = append(p.paid, po)
	return nil
}

func (p *fakePayer) setFail(holder string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail == nil {
		p.fail = make(map[string]bool)
	}
	p.fail[holder] = fail
}

func (p *fakePayer) total(holder string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum uint64
	for _, po := range p.paid {
		if po.Holder == holder {
			sum += po.Amount.Uint64()
		}
	}
	return sum
}

type fixture struct {
	ledger    *ledger.Ledger
	payer     *fakePayer
	records   *flakyRecords
	runs      *flakyRuns
	events    *eventlog.MemorySink
	threshold uint64
	batch     int
	dist      *Distributor
}

func newFixture(t *testing.T, threshold uint64, batch int) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    ledger.New(ledger.Options{Store: memory.NewAssetStore()}),
		payer:     &fakePayer{},
		records:   &flakyRecords{DistributionStore: memory.NewDistributionStore()},
		runs:      &flakyRuns{DistributionRunStore: memory.NewDistributionRunStore()},
		events:    eventlog.NewMemorySink(),
		threshold: threshold,
		batch:     batch,
	}
	f.restart()
	return f
}

// restart replaces the distributor with a fresh one over the same ledger
// and stores, as after a process restart.
func (f *fixture) restart() {
	f.dist = New(Options{
		Ledger:            f.ledger,
		Payer:             f.payer,
		Records:           f.records,
		Runs:              f.runs,
		Events:            eventlog.New(eventlog.Options{Sinks: []eventlog.Sink{f.events}}),
		IntakePrincipal:   intake,
		Currency:          "USD",
		DustFoldThreshold: uint256.NewInt(f.threshold),
		DefaultBatchSize:  f.batch,
	})
}

// flakyRecords fails the InsertBulk call numbered failOn (1-based).
type flakyRecords struct {
	*memory.DistributionStore
	mu     sync.Mutex
	calls  int
	failOn int
}

func (s *flakyRecords) InsertBulk(ctx context.Context, records []*domain.DistributionRecord) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failOn
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.DistributionStore.InsertBulk(ctx, records)
}

// flakyRuns fails the Save call numbered failOn (1-based).
type flakyRuns struct {
	*memory.DistributionRunStore
	mu     sync.Mutex
	calls  int
	failOn int
}

func (s *flakyRuns) Save(ctx context.Context, r *domain.DistributionRun) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == s.failOn
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.DistributionRunStore.Save(ctx, r)
}

// recordedTotal sums every record of a payment.
func (f *fixture) recordedTotal(t *testing.T, paymentID string) uint64 {
	t.Helper()
	records, err := f.records.GetByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	var sum uint64
	for _, rec := range records {
		sum += rec.Amount.Uint64()
	}
	return sum
}

func (f *fixture) register(t *testing.T, assetID string, allocs ...ledger.Allocation) {
	t.Helper()
	_, err := f.ledger.RegisterAsset(context.Background(), assetID, allocs)
	require.NoError(t, err)
}

func (f *fixture) dust(t *testing.T, assetID string) uint64 {
	t.Helper()
	snap, err := f.ledger.Snapshot(context.Background(), assetID)
	require.NoError(t, err)
	return snap.Dust.Uint64()
}

func alloc(holder string, amount uint64) ledger.Allocation {
	return ledger.Allocation{Holder: holder, Amount: *uint256.NewInt(amount)}
}

func TestDistribute_ExactSplit(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))

	res, err := f.dist.Distribute(context.Background(), intake, Request{
		AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(1000),
	})
	require.NoError(t, err)
	assert.True(t, res.Done())
	assert.True(t, res.Remainder.IsZero())
	require.Len(t, res.Payouts, 2)

	assert.Equal(t, uint64(400), f.payer.total("x"))
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(0), f.dust(t, "asset-1"))

	records, err := f.records.GetByPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Claimed)
	assert.True(t, records[1].Claimed)
	assert.Len(t, f.events.ByKind(domain.EventYieldDistributed), 2)
}

func TestDistribute_RemainderCarriedToDust(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))

	res, err := f.dist.Distribute(context.Background(), intake, Request{
		AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(1001),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Remainder.Uint64())
	assert.Equal(t, uint64(400), f.payer.total("x"))
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(1), f.dust(t, "asset-1"))
}

func TestDistribute_ConservesPayment(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 20; round++ {
		f := newFixture(t, 0, 1+rng.Intn(4))

		var (
			allocs  []ledger.Allocation
			balance = map[string]uint64{}
			supply  uint64
		)
		for i := 0; i < 1+rng.Intn(12); i++ {
			holder := fmt.Sprintf("h%d", i)
			amount := uint64(1 + rng.Intn(1000000))
			allocs = append(allocs, alloc(holder, amount))
			balance[holder] = amount
			supply += amount
		}
		f.register(t, "asset-1", allocs...)

		payment := uint64(1 + rng.Intn(10000000))
		pages, err := f.dist.DistributeAll(context.Background(), intake, Request{
			AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(payment),
		})
		require.NoError(t, err)

		var sum uint64
		for holder, bal := range balance {
			want := new(uint256.Int).Mul(uint256.NewInt(bal), uint256.NewInt(payment))
			want.Div(want, uint256.NewInt(supply))
			assert.Equal(t, want.Uint64(), f.payer.total(holder), "holder %s", holder)
			sum += f.payer.total(holder)
		}
		remainder := pages[len(pages)-1].Remainder.Uint64()
		assert.Equal(t, payment, sum+remainder)
		assert.Equal(t, remainder, f.dust(t, "asset-1"))
	}
}

func TestDistribute_PagesUseStartSnapshot(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))
	ctx := context.Background()

	first, err := f.dist.Distribute(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(1001),
	})
	require.NoError(t, err)
	require.False(t, first.Done())
	run, err := f.dist.Run(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, run.Done)
	assert.Equal(t, 1, run.Offset)
	assert.Len(t, run.Holders, 2)

	// balances move between pages; the run keeps its snapshot
	require.NoError(t, f.ledger.TransferSupply(ctx, "asset-1", "y", "x", uint256.NewInt(300000)))

	second, err := f.dist.Distribute(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay-1", Cursor: first.NextCursor,
	})
	require.NoError(t, err)
	assert.True(t, second.Done())
	assert.Equal(t, uint64(400), f.payer.total("x"))
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(1), second.Remainder.Uint64())

	run, err = f.dist.Run(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, run.Done)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(5)})
	assert.ErrorIs(t, err, domain.ErrAlreadyDistributed)
}

func TestDistribute_Errors(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 10), alloc("y", 10))
	f.register(t, "asset-empty", alloc("x", 10))
	ctx := context.Background()

	require.NoError(t, f.ledger.TransferSupply(ctx, "asset-empty", "x", "", uint256.NewInt(10)))

	_, err := f.dist.Distribute(ctx, "someone-else", Request{AssetID: "asset-1", PaymentID: "p", Amount: uint256.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p", Amount: uint256.NewInt(0)})
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-empty", PaymentID: "p", Amount: uint256.NewInt(5)})
	assert.ErrorIs(t, err, domain.ErrEmptySupply)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "missing", PaymentID: "p", Amount: uint256.NewInt(5)})
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p", Cursor: "not-base58-0OIl"})
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)

	first, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p", Amount: uint256.NewInt(5)})
	require.NoError(t, err)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "other", Cursor: first.NextCursor})
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p", Cursor: EncodeCursor("p", 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)

	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p", Amount: uint256.NewInt(5)})
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)

	require.NoError(t, f.ledger.Deactivate(ctx, "asset-1"))
	_, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "q", Amount: uint256.NewInt(5)})
	assert.ErrorIs(t, err, domain.ErrAssetInactive)
}

func TestResume_AfterRestart(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))
	ctx := context.Background()

	first, err := f.dist.Distribute(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(1001),
	})
	require.NoError(t, err)
	require.False(t, first.Done())

	f.restart()

	_, err = f.dist.Resume(ctx, "someone-else", Request{AssetID: "asset-1", PaymentID: "pay"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// The cursor issued before the restart is still valid.
	second, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay", Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.True(t, second.Done())
	assert.Equal(t, uint64(1), second.Remainder.Uint64())

	assert.Equal(t, uint64(400), f.payer.total("x"))
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(1), f.dust(t, "asset-1"))
	assert.Equal(t, uint64(1001), f.recordedTotal(t, "pay")+f.dust(t, "asset-1"))

	_, err = f.dist.Resume(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay"})
	assert.ErrorIs(t, err, domain.ErrAlreadyDistributed)
}

func TestResume_AfterFailedPage(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 1), alloc("y", 1), alloc("z", 1))
	ctx := context.Background()

	f.records.failOn = 2
	pages, err := f.dist.DistributeAll(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(10),
	})
	require.Error(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, uint64(0), f.dust(t, "asset-1"))

	run, err := f.dist.Run(ctx, "pay")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Offset)

	// Balances move before the resume; the run keeps its snapshot.
	require.NoError(t, f.ledger.TransferSupply(ctx, "asset-1", "z", "", uint256.NewInt(1)))
	f.restart()

	pages, err = f.dist.Resume(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.True(t, pages[1].Done())

	for _, h := range []string{"x", "y", "z"} {
		assert.Equal(t, uint64(3), f.payer.total(h), h)
	}
	assert.Equal(t, uint64(1), f.dust(t, "asset-1"))
	assert.Equal(t, uint64(10), f.recordedTotal(t, "pay")+f.dust(t, "asset-1"))
}

func TestResume_StartsWhenNoPageRecorded(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))
	ctx := context.Background()

	f.records.failOn = 1
	pages, err := f.dist.DistributeAll(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(1001),
	})
	require.Error(t, err)
	assert.Empty(t, pages)
	_, err = f.dist.Run(ctx, "pay")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pages, err = f.dist.Resume(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(1001)})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, uint64(400), f.payer.total("x"))
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(1001), f.recordedTotal(t, "pay")+f.dust(t, "asset-1"))
}

func TestResume_PageStoredWithoutRun(t *testing.T) {
	f := newFixture(t, 0, 1)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))
	ctx := context.Background()

	// page 2 records are stored but the run update fails, so the page is
	// rolled back in the ledger and stays pending
	f.runs.failOn = 2
	pages, err := f.dist.DistributeAll(ctx, intake, Request{
		AssetID: "asset-1", PaymentID: "pay", Amount: uint256.NewInt(1001),
	})
	require.Error(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, uint64(0), f.payer.total("y"))

	pages, err = f.dist.Resume(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay"})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Done())
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Equal(t, uint64(1), f.dust(t, "asset-1"))
	assert.Equal(t, uint64(1001), f.recordedTotal(t, "pay")+f.dust(t, "asset-1"))
}

func TestDistribute_DustFold(t *testing.T) {
	f := newFixture(t, 2, 0)
	f.register(t, "asset-1", alloc("x", 1), alloc("y", 1), alloc("z", 1))
	ctx := context.Background()

	// 10 / 3 leaves 1
	_, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p1", Amount: uint256.NewInt(10)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.dust(t, "asset-1"))

	// below the threshold: not folded, 10 / 3 leaves another 1
	res, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p2", Amount: uint256.NewInt(10)})
	require.NoError(t, err)
	assert.True(t, res.FoldedDust.IsZero())
	assert.Equal(t, uint64(2), f.dust(t, "asset-1"))

	// threshold reached: 10 + 2 splits evenly
	res, err = f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "p3", Amount: uint256.NewInt(10)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.FoldedDust.Uint64())
	assert.True(t, res.Remainder.IsZero())
	assert.Equal(t, uint64(0), f.dust(t, "asset-1"))
	assert.Equal(t, uint64(3+3+4), f.payer.total("x"))
}

func TestClaimUnclaimedYield(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.register(t, "asset-1", alloc("x", 400000), alloc("y", 600000))
	ctx := context.Background()

	f.payer.setFail("y", true)
	res, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(1000)})
	require.NoError(t, err)
	require.Len(t, res.Payouts, 2)
	assert.True(t, res.Payouts[0].Paid)
	assert.False(t, res.Payouts[1].Paid)

	unclaimed, err := f.dist.Unclaimed(ctx, "asset-1", "y")
	require.NoError(t, err)
	require.Len(t, unclaimed, 1)
	assert.Equal(t, uint64(600), unclaimed[0].Amount.Uint64())

	// still failing: every attempt failed
	_, err = f.dist.ClaimUnclaimedYield(ctx, "y", "asset-1", nil)
	require.Error(t, err)

	f.payer.setFail("y", false)
	claim, err := f.dist.ClaimUnclaimedYield(ctx, "y", "asset-1", []string{"pay-1"})
	require.NoError(t, err)
	require.Len(t, claim.Payouts, 1)
	assert.True(t, claim.Payouts[0].Paid)
	assert.Equal(t, uint64(600), f.payer.total("y"))
	assert.Len(t, f.events.ByKind(domain.EventYieldClaimed), 1)

	_, err = f.dist.ClaimUnclaimedYield(ctx, "y", "asset-1", []string{"pay-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = f.dist.ClaimUnclaimedYield(ctx, "x", "asset-1", []string{"pay-1"})
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = f.dist.ClaimUnclaimedYield(ctx, "z", "asset-1", nil)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	_, err = f.dist.ClaimUnclaimedYield(ctx, "y", "asset-1", []string{"pay-unknown"})
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

// blockingPayer holds every payout until release is closed.
type blockingPayer struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (p *blockingPayer) Pay(context.Context, Payout) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.started <- struct{}{}
	<-p.release
	return nil
}

func TestClaimUnclaimedYield_ConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.register(t, "asset-1", alloc("x", 1))
	ctx := context.Background()

	f.payer.setFail("x", true)
	_, err := f.dist.Distribute(ctx, intake, Request{AssetID: "asset-1", PaymentID: "pay-1", Amount: uint256.NewInt(50)})
	require.NoError(t, err)

	bp := &blockingPayer{started: make(chan struct{}, 2), release: make(chan struct{})}
	f.dist.payer = bp

	errs := make(chan error, 2)
	go func() {
		_, err := f.dist.ClaimUnclaimedYield(ctx, "x", "asset-1", nil)
		errs <- err
	}()
	<-bp.started

	_, err = f.dist.ClaimUnclaimedYield(ctx, "x", "asset-1", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	close(bp.release)
	require.NoError(t, <-errs)
	assert.Equal(t, 1, bp.calls)
}

func TestCursorRoundTrip(t *testing.T) {
	paymentID, offset, err := DecodeCursor(EncodeCursor("pay|with|bars", 42))
	require.NoError(t, err)
	assert.Equal(t, "pay|with|bars", paymentID)
	assert.Equal(t, 42, offset)

	_, _, err = DecodeCursor(EncodeCursor("", 1))
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)
}
