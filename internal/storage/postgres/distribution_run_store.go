package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// DistributionRunStore implements storage.DistributionRunStore using PostgreSQL.
type DistributionRunStore struct {
	pool *Pool
}

// NewDistributionRunStore creates a new DistributionRunStore.
func NewDistributionRunStore(pool *Pool) *DistributionRunStore {
	return &DistributionRunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributionRunStore = (*DistributionRunStore)(nil)

const runColumns = `payment_id, asset_id, amount, folded_dust, supply, allocated, next_offset, done, created_at, updated_at`

// Save upserts the run. Amount, supply and the holder snapshot are fixed by
// the first save; later saves only advance progress.
func (s *DistributionRunStore) Save(ctx context.Context, r *domain.DistributionRun) (err error) {
	if r == nil || r.PaymentID == "" || r.AssetID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("distribution_runs.save", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO distribution_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (payment_id) DO UPDATE SET
			allocated = EXCLUDED.allocated,
			next_offset = EXCLUDED.next_offset,
			done = EXCLUDED.done,
			updated_at = EXCLUDED.updated_at
		WHERE distribution_runs.asset_id = EXCLUDED.asset_id
		RETURNING (xmax = 0)
	`,
		r.PaymentID, r.AssetID, toNumeric(&r.Amount), toNumeric(&r.FoldedDust),
		toNumeric(&r.Supply), toNumeric(&r.Allocated), r.Offset, r.Done,
		r.CreatedAt, r.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		if isNotFoundError(err) {
			// Conflict on a run of another asset.
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("upsert distribution run: %w", err)
	}

	switch {
	case r.Done:
		if _, err := tx.Exec(ctx, `DELETE FROM distribution_run_holders WHERE payment_id = $1`, r.PaymentID); err != nil {
			return fmt.Errorf("clear run holders: %w", err)
		}
	case inserted:
		batch := &pgx.Batch{}
		for i := range r.Holders {
			h := &r.Holders[i]
			batch.Queue(`
				INSERT INTO distribution_run_holders (payment_id, position, holder, balance)
				VALUES ($1, $2, $3, $4)
			`, r.PaymentID, i, h.Holder, toNumeric(&h.Balance))
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert run holders: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get retrieves the run of a payment. Returns ErrNotFound if not exists.
func (s *DistributionRunStore) Get(ctx context.Context, paymentID string) (*domain.DistributionRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM distribution_runs
		WHERE payment_id = $1
	`, paymentID)

	r, err := scanRun(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution run: %w", err)
	}

	if err := s.loadHolders(ctx, []*domain.DistributionRun{r}); err != nil {
		return nil, err
	}
	return r, nil
}

// ListPending retrieves runs that are not done, ordered by created_at ASC, payment_id ASC.
func (s *DistributionRunStore) ListPending(ctx context.Context) ([]*domain.DistributionRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM distribution_runs
		WHERE NOT done
		ORDER BY created_at ASC, payment_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.DistributionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution runs: %w", err)
	}
	rows.Close()

	if err := s.loadHolders(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// loadHolders fills the holder snapshot of each run in position order.
func (s *DistributionRunStore) loadHolders(ctx context.Context, runs []*domain.DistributionRun) error {
	if len(runs) == 0 {
		return nil
	}

	byID := make(map[string]*domain.DistributionRun, len(runs))
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		byID[r.PaymentID] = r
		ids = append(ids, r.PaymentID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT payment_id, holder, balance
		FROM distribution_run_holders
		WHERE payment_id = ANY($1)
		ORDER BY payment_id ASC, position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query run holders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var paymentID string
		var hb domain.HolderBalance
		var balance pgtype.Numeric
		if err := rows.Scan(&paymentID, &hb.Holder, &balance); err != nil {
			return fmt.Errorf("scan run holder: %w", err)
		}
		if err := fromNumeric(balance, &hb.Balance); err != nil {
			return fmt.Errorf("decode balance of %s: %w", hb.Holder, err)
		}
		r := byID[paymentID]
		hb.AssetID = r.AssetID
		r.Holders = append(r.Holders, hb)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate run holders: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (*domain.DistributionRun, error) {
	var r domain.DistributionRun
	var amount, folded, supply, allocated pgtype.Numeric

	err := row.Scan(
		&r.PaymentID, &r.AssetID, &amount, &folded, &supply, &allocated,
		&r.Offset, &r.Done, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromNumeric(amount, &r.Amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	if err := fromNumeric(folded, &r.FoldedDust); err != nil {
		return nil, fmt.Errorf("decode folded_dust: %w", err)
	}
	if err := fromNumeric(supply, &r.Supply); err != nil {
		return nil, fmt.Errorf("decode supply: %w", err)
	}
	if err := fromNumeric(allocated, &r.Allocated); err != nil {
		return nil, fmt.Errorf("decode allocated: %w", err)
	}
	return &r, nil
}
