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

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

// Save upserts the snapshot. A stored snapshot with a higher version wins
// and the call becomes a no-op.
func (s *AssetStore) Save(ctx context.Context, snap *domain.AssetSnapshot) (err error) {
	if snap == nil || snap.AssetID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("assets.save", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO assets (
			asset_id, total_supply, active, dust, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset_id) DO UPDATE SET
			total_supply = EXCLUDED.total_supply,
			active = EXCLUDED.active,
			dust = EXCLUDED.dust,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE assets.version <= EXCLUDED.version
	`,
		snap.AssetID, toNumeric(&snap.TotalSupply), snap.Active, toNumeric(&snap.Dust),
		snap.Version, snap.CreatedAt, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Stale snapshot.
		return nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM asset_balances WHERE asset_id = $1`, snap.AssetID); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range snap.Balances {
		b := &snap.Balances[i]
		batch.Queue(`
			INSERT INTO asset_balances (asset_id, holder, position, balance)
			VALUES ($1, $2, $3, $4)
		`, snap.AssetID, b.Holder, i, toNumeric(&b.Balance))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert balances: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get retrieves the latest snapshot of an asset. Returns ErrNotFound if not exists.
func (s *AssetStore) Get(ctx context.Context, assetID string) (*domain.AssetSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT asset_id, total_supply, active, dust, version, created_at, updated_at
		FROM assets
		WHERE asset_id = $1
	`, assetID)

	snap, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}

	if err := s.loadBalances(ctx, []*domain.AssetSnapshot{snap}); err != nil {
		return nil, err
	}
	return snap, nil
}

// List retrieves all snapshots, ordered by asset_id ASC.
func (s *AssetStore) List(ctx context.Context) ([]*domain.AssetSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, total_supply, active, dust, version, created_at, updated_at
		FROM assets
		ORDER BY asset_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.AssetSnapshot
	for rows.Next() {
		snap, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	rows.Close()

	if err := s.loadBalances(ctx, snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// loadBalances fills Balances of each snapshot in registration order.
func (s *AssetStore) loadBalances(ctx context.Context, snaps []*domain.AssetSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	byID := make(map[string]*domain.AssetSnapshot, len(snaps))
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		byID[snap.AssetID] = snap
		ids = append(ids, snap.AssetID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, holder, balance
		FROM asset_balances
		WHERE asset_id = ANY($1)
		ORDER BY asset_id ASC, position ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hb domain.HolderBalance
		var balance pgtype.Numeric
		if err := rows.Scan(&hb.AssetID, &hb.Holder, &balance); err != nil {
			return fmt.Errorf("scan balance: %w", err)
		}
		if err := fromNumeric(balance, &hb.Balance); err != nil {
			return fmt.Errorf("decode balance of %s: %w", hb.Holder, err)
		}
		snap := byID[hb.AssetID]
		snap.Balances = append(snap.Balances, hb)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate balances: %w", err)
	}
	return nil
}

func scanAsset(row pgx.Row) (*domain.AssetSnapshot, error) {
	var snap domain.AssetSnapshot
	var supply, dust pgtype.Numeric

	err := row.Scan(
		&snap.AssetID, &supply, &snap.Active, &dust,
		&snap.Version, &snap.CreatedAt, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromNumeric(supply, &snap.TotalSupply); err != nil {
		return nil, fmt.Errorf("decode total_supply: %w", err)
	}
	if err := fromNumeric(dust, &snap.Dust); err != nil {
		return nil, fmt.Errorf("decode dust: %w", err)
	}
	return &snap, nil
}
