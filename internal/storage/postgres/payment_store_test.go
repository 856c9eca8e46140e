package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

func TestPaymentStore_Insert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPaymentStore(pool)
	ctx := context.Background()

	p := &domain.PaymentRecord{
		PaymentID:       "pay-1",
		AssetID:         "asset-1",
		Payer:           "intake",
		Amount:          u256(t, "1000"),
		Currency:        "EUR",
		Rate:            u256(t, "1100000000000000000"),
		ConvertedAmount: u256(t, "1100"),
		Timestamp:       1000,
	}
	require.NoError(t, store.Insert(ctx, p))

	err := store.Insert(ctx, p)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, "1100000000000000000", got.Rate.Dec())
	assert.Equal(t, "1100", got.ConvertedAmount.Dec())

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPaymentStore_GetByAsset(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPaymentStore(pool)
	ctx := context.Background()

	for _, p := range []*domain.PaymentRecord{
		{PaymentID: "pay-2", AssetID: "asset-1", Payer: "intake", Amount: u256(t, "1"), Currency: "USD", Rate: u256(t, "1"), ConvertedAmount: u256(t, "1"), Timestamp: 2000},
		{PaymentID: "pay-1", AssetID: "asset-1", Payer: "intake", Amount: u256(t, "1"), Currency: "USD", Rate: u256(t, "1"), ConvertedAmount: u256(t, "1"), Timestamp: 1000},
		{PaymentID: "pay-3", AssetID: "asset-2", Payer: "intake", Amount: u256(t, "1"), Currency: "USD", Rate: u256(t, "1"), ConvertedAmount: u256(t, "1"), Timestamp: 1500},
	} {
		require.NoError(t, store.Insert(ctx, p))
	}

	got, err := store.GetByAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pay-1", got[0].PaymentID)
	assert.Equal(t, "pay-2", got[1].PaymentID)
}
