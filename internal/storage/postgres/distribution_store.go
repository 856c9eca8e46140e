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

// DistributionStore implements storage.DistributionStore using PostgreSQL.
type DistributionStore struct {
	pool *Pool
}

// NewDistributionStore creates a new DistributionStore.
func NewDistributionStore(pool *Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributionStore = (*DistributionStore)(nil)

// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate.
func (s *DistributionStore) InsertBulk(ctx context.Context, records []*domain.DistributionRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.PaymentID == "" || r.Holder == "" {
			return storage.ErrInvalidInput
		}
	}
	defer func(start time.Time) { observe("distributions.insert_bulk", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO distribution_records (
			payment_id, asset_id, holder, seq, amount, claimed, created_at, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, r := range records {
		_, err := tx.Exec(ctx, query,
			r.PaymentID, r.AssetID, r.Holder, r.Seq, toNumeric(&r.Amount),
			r.Claimed, r.CreatedAt, r.ClaimedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert distribution record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByPayment retrieves all records of a payment, ordered by seq ASC.
func (s *DistributionStore) GetByPayment(ctx context.Context, paymentID string) ([]*domain.DistributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_id, asset_id, holder, seq, amount, claimed, created_at, claimed_at
		FROM distribution_records
		WHERE payment_id = $1
		ORDER BY seq ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("get distribution records by payment: %w", err)
	}
	defer rows.Close()

	return scanDistributionRecords(rows)
}

// GetByHolder retrieves all records of a holder for an asset.
func (s *DistributionStore) GetByHolder(ctx context.Context, assetID, holder string) ([]*domain.DistributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_id, asset_id, holder, seq, amount, claimed, created_at, claimed_at
		FROM distribution_records
		WHERE asset_id = $1 AND holder = $2
		ORDER BY created_at ASC, payment_id ASC, seq ASC
	`, assetID, holder)
	if err != nil {
		return nil, fmt.Errorf("get distribution records by holder: %w", err)
	}
	defer rows.Close()

	return scanDistributionRecords(rows)
}

// MarkClaimed flips claimed from false to true.
func (s *DistributionStore) MarkClaimed(ctx context.Context, paymentID, holder string, claimedAt int64) (err error) {
	defer func(start time.Time) { observe("distributions.mark_claimed", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `
		UPDATE distribution_records
		SET claimed = TRUE, claimed_at = $3
		WHERE payment_id = $1 AND holder = $2 AND NOT claimed
	`, paymentID, holder, claimedAt)
	if err != nil {
		return fmt.Errorf("mark claimed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM distribution_records WHERE payment_id = $1 AND holder = $2
		)
	`, paymentID, holder).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check distribution record: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrAlreadyClaimed
}

func scanDistributionRecords(rows pgx.Rows) ([]*domain.DistributionRecord, error) {
	var records []*domain.DistributionRecord
	for rows.Next() {
		var r domain.DistributionRecord
		var amount pgtype.Numeric
		err := rows.Scan(
			&r.PaymentID, &r.AssetID, &r.Holder, &r.Seq, &amount,
			&r.Claimed, &r.CreatedAt, &r.ClaimedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan distribution record: %w", err)
		}
		if err := fromNumeric(amount, &r.Amount); err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution records: %w", err)
	}
	return records, nil
}
