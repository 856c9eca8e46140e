package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

func TestPoolStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPoolStore(pool)
	ctx := context.Background()

	p := &domain.Pool{
		AssetID:      "asset-1",
		ReserveToken: u256(t, "10000"),
		ReserveBase:  u256(t, "20000"),
		InvariantK:   u256(t, "200000000"),
		FeeBps:       30,
		CreatedAt:    1000,
		UpdatedAt:    1000,
	}
	require.NoError(t, store.Upsert(ctx, p))

	p.ReserveToken = u256(t, "9000")
	p.ReserveBase = u256(t, "22223")
	p.UpdatedAt = 2000
	p.CreatedAt = 5000 // must not overwrite
	require.NoError(t, store.Upsert(ctx, p))

	got, err := store.Get(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "9000", got.ReserveToken.Dec())
	assert.Equal(t, "22223", got.ReserveBase.Dec())
	assert.Equal(t, "200000000", got.InvariantK.Dec())
	assert.Equal(t, uint16(30), got.FeeBps)
	assert.Equal(t, int64(1000), got.CreatedAt)
	assert.Equal(t, int64(2000), got.UpdatedAt)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
