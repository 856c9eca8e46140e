package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

func TestAssetStore_SaveAndGet(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	snap := &domain.AssetSnapshot{
		AssetID:     "asset-1",
		TotalSupply: *uint256.NewInt(1000),
		Active:      true,
		Balances: []domain.HolderBalance{
			{AssetID: "asset-1", Holder: "alice", Balance: *uint256.NewInt(600)},
			{AssetID: "asset-1", Holder: "bob", Balance: *uint256.NewInt(400)},
		},
		Version:   1,
		CreatedAt: 1704067200000,
	}

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's slice must not leak into the store
	snap.Balances[0].Holder = "mallory"

	got, err := store.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Balances) != 2 {
		t.Fatalf("Expected 2 balances, got %d", len(got.Balances))
	}
	if got.Balances[0].Holder != "alice" {
		t.Errorf("Holder mismatch: got %s, want alice", got.Balances[0].Holder)
	}
	if got.TotalSupply.Uint64() != 1000 {
		t.Errorf("TotalSupply mismatch: got %s, want 1000", got.TotalSupply.Dec())
	}
}

func TestAssetStore_StaleVersionIgnored(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	newer := &domain.AssetSnapshot{AssetID: "asset-1", TotalSupply: *uint256.NewInt(10), Version: 5}
	older := &domain.AssetSnapshot{AssetID: "asset-1", TotalSupply: *uint256.NewInt(99), Version: 4}

	if err := store.Save(ctx, newer); err != nil {
		t.Fatalf("Save newer failed: %v", err)
	}
	if err := store.Save(ctx, older); err != nil {
		t.Fatalf("Save older failed: %v", err)
	}

	got, err := store.Get(ctx, "asset-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 5 {
		t.Errorf("Version mismatch: got %d, want 5", got.Version)
	}
	if got.TotalSupply.Uint64() != 10 {
		t.Errorf("TotalSupply mismatch: got %s, want 10", got.TotalSupply.Dec())
	}
}

func TestAssetStore_NotFound(t *testing.T) {
	store := NewAssetStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAssetStore_ListOrdering(t *testing.T) {
	store := NewAssetStore()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := store.Save(ctx, &domain.AssetSnapshot{AssetID: id, Version: 1}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 assets, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].AssetID != want {
			t.Errorf("Position %d: got %s, want %s", i, list[i].AssetID, want)
		}
	}
}

func TestAssetStore_InvalidInput(t *testing.T) {
	store := NewAssetStore()

	err := store.Save(context.Background(), &domain.AssetSnapshot{})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
