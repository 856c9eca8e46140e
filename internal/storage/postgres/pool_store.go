package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Upsert stores the current state of a pool. created_at is kept from the first insert.
func (s *PoolStore) Upsert(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.AssetID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pools (
			asset_id, reserve_token, reserve_base, invariant_k, fee_bps, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset_id) DO UPDATE SET
			reserve_token = EXCLUDED.reserve_token,
			reserve_base = EXCLUDED.reserve_base,
			invariant_k = EXCLUDED.invariant_k,
			fee_bps = EXCLUDED.fee_bps,
			updated_at = EXCLUDED.updated_at
	`,
		p.AssetID, toNumeric(&p.ReserveToken), toNumeric(&p.ReserveBase), toNumeric(&p.InvariantK),
		int32(p.FeeBps), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	return nil
}

// Get retrieves the pool of an asset. Returns ErrNotFound if not exists.
func (s *PoolStore) Get(ctx context.Context, assetID string) (*domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asset_id, reserve_token, reserve_base, invariant_k, fee_bps, created_at, updated_at
		FROM pools
		WHERE asset_id = $1
	`, assetID)

	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// List retrieves all pools, ordered by asset_id ASC.
func (s *PoolStore) List(ctx context.Context) ([]*domain.Pool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, reserve_token, reserve_base, invariant_k, fee_bps, created_at, updated_at
		FROM pools
		ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return pools, nil
}

func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var token, base, k pgtype.Numeric
	var feeBps int32

	err := row.Scan(&p.AssetID, &token, &base, &k, &feeBps, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := fromNumeric(token, &p.ReserveToken); err != nil {
		return nil, fmt.Errorf("decode reserve_token: %w", err)
	}
	if err := fromNumeric(base, &p.ReserveBase); err != nil {
		return nil, fmt.Errorf("decode reserve_base: %w", err)
	}
	if err := fromNumeric(k, &p.InvariantK); err != nil {
		return nil, fmt.Errorf("decode invariant_k: %w", err)
	}
	p.FeeBps = uint16(feeBps)
	return &p, nil
}
