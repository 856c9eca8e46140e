// Package liquidity runs the per-asset constant-product pools that mint
// tokens against base currency and burn them back.
//
// Pool state changes inside the asset's ledger transaction, together with
// the mint or burn it prices, so supply and reserves always move as one.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/storage"
)

// Options configures the pool engine.
type Options struct {
	Ledger *ledger.Ledger
	Store  storage.PoolStore // optional
	Events *eventlog.Log     // optional

	// AdminPrincipal is the only caller allowed to create pools.
	AdminPrincipal string

	Clock  func() int64
	Logger *zap.Logger
}

// Engine owns every asset pool.
type Engine struct {
	ledger *ledger.Ledger
	store  storage.PoolStore
	events *eventlog.Log
	admin  string
	now    func() int64
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[string]domain.Pool
}

// New creates a pool engine.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		ledger: opts.Ledger,
		store:  opts.Store,
		events: opts.Events,
		admin:  opts.AdminPrincipal,
		now:    opts.Clock,
		logger: opts.Logger.Named("liquidity"),
		pools:  make(map[string]domain.Pool),
	}
}

// Restore loads persisted pools.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	pools, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pools: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range pools {
		e.pools[p.AssetID] = *p
	}
	return len(pools), nil
}

// CreatePool opens the pool of an asset with initial reserves.
func (e *Engine) CreatePool(ctx context.Context, caller, assetID string, reserveToken, reserveBase *uint256.Int, feeBps uint16) (*domain.Pool, error) {
	if caller == "" || caller != e.admin {
		return nil, fmt.Errorf("create pool as %q: %w", caller, domain.ErrUnauthorized)
	}
	if feeBps > domain.MaxFeeBps {
		return nil, fmt.Errorf("fee %d bps: %w", feeBps, storage.ErrInvalidInput)
	}
	if reserveToken == nil || reserveBase == nil || reserveToken.IsZero() || reserveBase.IsZero() {
		return nil, fmt.Errorf("pool %s: %w", assetID, domain.ErrInvalidReserves)
	}

	var created domain.Pool
	err := e.ledger.Update(ctx, assetID, func(tx *ledger.Tx) error {
		if !tx.Active() {
			return fmt.Errorf("asset %s: %w", assetID, domain.ErrAssetInactive)
		}
		if _, exists := e.pool(assetID); exists {
			return fmt.Errorf("pool %s: %w", assetID, domain.ErrPoolExists)
		}

		now := e.now()
		created = domain.Pool{
			AssetID:      assetID,
			ReserveToken: *reserveToken,
			ReserveBase:  *reserveBase,
			FeeBps:       feeBps,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := rebalance(&created); err != nil {
			return err
		}
		e.stage(tx, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("pool created",
		zap.String("asset_id", assetID),
		zap.String("reserve_token", created.ReserveToken.Dec()),
		zap.String("reserve_base", created.ReserveBase.Dec()),
		zap.Uint16("fee_bps", feeBps),
	)
	return &created, nil
}

// AcquireTokens mints tokens to caller for baseAmountIn of base currency.
func (e *Engine) AcquireTokens(ctx context.Context, caller, assetID string, baseAmountIn, minTokenOut *uint256.Int) (*domain.Trade, error) {
	return e.trade(ctx, domain.TradeSideAcquire, caller, assetID, baseAmountIn, minTokenOut)
}

// BurnAndLiquidate burns tokenAmountIn from caller and prices the base
// currency owed to them.
func (e *Engine) BurnAndLiquidate(ctx context.Context, caller, assetID string, tokenAmountIn, minBaseOut *uint256.Int) (*domain.Trade, error) {
	return e.trade(ctx, domain.TradeSideBurn, caller, assetID, tokenAmountIn, minBaseOut)
}

func (e *Engine) trade(ctx context.Context, side domain.TradeSide, caller, assetID string, amountIn, minOut *uint256.Int) (*domain.Trade, error) {
	start := time.Now()
	t, err := e.execute(ctx, side, caller, assetID, amountIn, minOut)
	observability.RecordTrade(string(side), err)
	observability.RecordOperation("liquidity_"+string(side), time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	kind := domain.EventLiquidityAcquired
	if side == domain.TradeSideBurn {
		kind = domain.EventLiquidityBurned
	}
	if e.events != nil {
		e.events.Emit(ctx, domain.LedgerEvent{
			Kind:      kind,
			AssetID:   assetID,
			Actor:     caller,
			Timestamp: t.Timestamp,
			Attrs: map[string]string{
				"token_amount":  t.TokenAmount.Dec(),
				"base_amount":   t.BaseAmount.Dec(),
				"fee":           t.Fee.Dec(),
				"reserve_token": t.PoolAfter.ReserveToken.Dec(),
				"reserve_base":  t.PoolAfter.ReserveBase.Dec(),
			},
		})
	}
	return t, nil
}

func (e *Engine) execute(ctx context.Context, side domain.TradeSide, caller, assetID string, amountIn, minOut *uint256.Int) (*domain.Trade, error) {
	if caller == "" {
		return nil, fmt.Errorf("%s: %w", side, domain.ErrInvalidAddress)
	}
	if minOut == nil {
		minOut = new(uint256.Int)
	}

	var t *domain.Trade
	err := e.ledger.Update(ctx, assetID, func(tx *ledger.Tx) error {
		p, ok := e.pool(assetID)
		if !ok {
			return fmt.Errorf("asset %s: %w", assetID, domain.ErrPoolNotFound)
		}
		if !tx.Active() {
			return fmt.Errorf("asset %s: %w", assetID, domain.ErrAssetInactive)
		}

		var (
			q   *Quote
			err error
		)
		if side == domain.TradeSideAcquire {
			q, err = quoteAcquire(p, amountIn)
		} else {
			q, err = quoteBurn(p, amountIn)
		}
		if err != nil {
			return err
		}
		if q.AmountOut.Lt(minOut) {
			return fmt.Errorf("%s yields %s, minimum %s: %w", side, q.AmountOut.Dec(), minOut.Dec(), domain.ErrSlippageExceeded)
		}

		if side == domain.TradeSideAcquire {
			err = tx.Mint(caller, &q.AmountOut)
		} else {
			err = tx.Burn(caller, amountIn)
		}
		if err != nil {
			return err
		}

		now := e.now()
		after := q.After
		after.UpdatedAt = now
		e.stage(tx, after)

		t = &domain.Trade{
			AssetID:   assetID,
			Trader:    caller,
			Side:      side,
			Fee:       q.Fee,
			PoolAfter: after,
			Timestamp: now,
		}
		if side == domain.TradeSideAcquire {
			t.BaseAmount, t.TokenAmount = q.AmountIn, q.AmountOut
		} else {
			t.TokenAmount, t.BaseAmount = q.AmountIn, q.AmountOut
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrSlippageExceeded) {
			e.logger.Debug("trade rejected", zap.String("asset_id", assetID), zap.String("side", string(side)), zap.Error(err))
		}
		return nil, err
	}
	return t, nil
}

// stage persists p with the transaction and publishes it on commit.
func (e *Engine) stage(tx *ledger.Tx, p domain.Pool) {
	if e.store != nil {
		tx.OnPersist(func(ctx context.Context) error {
			if err := e.store.Upsert(ctx, &p); err != nil {
				return fmt.Errorf("persist pool %s: %w", p.AssetID, err)
			}
			return nil
		})
	}
	tx.OnCommit(func() {
		e.mu.Lock()
		e.pools[p.AssetID] = p
		e.mu.Unlock()
	})
}

func (e *Engine) pool(assetID string) (domain.Pool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pools[assetID]
	return p, ok
}

// Pool returns the current state of an asset's pool.
func (e *Engine) Pool(assetID string) (*domain.Pool, error) {
	p, ok := e.pool(assetID)
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, domain.ErrPoolNotFound)
	}
	return &p, nil
}

// Pools returns every pool ordered by asset id.
func (e *Engine) Pools() []domain.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// QuoteAcquire prices an acquire against the current pool without
// trading.
func (e *Engine) QuoteAcquire(assetID string, baseAmountIn *uint256.Int) (*Quote, error) {
	p, err := e.Pool(assetID)
	if err != nil {
		return nil, err
	}
	return quoteAcquire(*p, baseAmountIn)
}

// QuoteBurn prices a burn against the current pool without trading.
func (e *Engine) QuoteBurn(assetID string, tokenAmountIn *uint256.Int) (*Quote, error) {
	p, err := e.Pool(assetID)
	if err != nil {
		return nil, err
	}
	return quoteBurn(*p, tokenAmountIn)
}
