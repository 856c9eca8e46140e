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

// PaymentStore implements storage.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *Pool
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(pool *Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PaymentStore = (*PaymentStore)(nil)

// Insert adds a new payment. Returns ErrDuplicateKey if payment_id exists.
func (s *PaymentStore) Insert(ctx context.Context, p *domain.PaymentRecord) (err error) {
	if p == nil || p.PaymentID == "" || p.AssetID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("payments.insert", start, err) }(time.Now())

	_, err = s.pool.Exec(ctx, `
		INSERT INTO payment_records (
			payment_id, asset_id, payer, amount, currency, rate, converted_amount, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		p.PaymentID, p.AssetID, p.Payer, toNumeric(&p.Amount), p.Currency,
		toNumeric(&p.Rate), toNumeric(&p.ConvertedAmount), p.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment. Returns ErrNotFound if not exists.
func (s *PaymentStore) GetByID(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT payment_id, asset_id, payer, amount, currency, rate, converted_amount, timestamp
		FROM payment_records
		WHERE payment_id = $1
	`, paymentID)

	p, err := scanPayment(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetByAsset retrieves all payments of an asset, ordered by timestamp ASC.
func (s *PaymentStore) GetByAsset(ctx context.Context, assetID string) ([]*domain.PaymentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_id, asset_id, payer, amount, currency, rate, converted_amount, timestamp
		FROM payment_records
		WHERE asset_id = $1
		ORDER BY timestamp ASC, payment_id ASC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("get payments by asset: %w", err)
	}
	defer rows.Close()

	var payments []*domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	var amount, rate, converted pgtype.Numeric

	err := row.Scan(
		&p.PaymentID, &p.AssetID, &p.Payer, &amount, &p.Currency,
		&rate, &converted, &p.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if err := fromNumeric(amount, &p.Amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	if err := fromNumeric(rate, &p.Rate); err != nil {
		return nil, fmt.Errorf("decode rate: %w", err)
	}
	if err := fromNumeric(converted, &p.ConvertedAmount); err != nil {
		return nil, fmt.Errorf("decode converted_amount: %w", err)
	}
	return &p, nil
}
