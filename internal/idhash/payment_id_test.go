package idhash

import (
	"testing"
)

func TestComputePaymentID(t *testing.T) {
	tests := []struct {
		name      string
		assetID   string
		payer     string
		currency  string
		amount    string
		timestamp int64
		nonce     uint64
		wantLen   int // hash length should be 64
	}{
		{
			name:      "rent payment",
			assetID:   "asset-berlin-01",
			payer:     "tenant-7",
			currency:  "EUR",
			amount:    "1000000000000000000000",
			timestamp: 1704067200000,
			nonce:     0,
			wantLen:   64,
		},
		{
			name:      "stablecoin payment",
			assetID:   "asset-lisbon-02",
			payer:     "tenant-9",
			currency:  "USDC",
			amount:    "1",
			timestamp: 1704067300000,
			nonce:     42,
			wantLen:   64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputePaymentID(tt.assetID, tt.payer, tt.currency, tt.amount, tt.timestamp, tt.nonce)

			if len(got) != tt.wantLen {
				t.Errorf("ComputePaymentID() length = %d, want %d", len(got), tt.wantLen)
			}

			// Verify determinism: same inputs should produce same output
			got2 := ComputePaymentID(tt.assetID, tt.payer, tt.currency, tt.amount, tt.timestamp, tt.nonce)
			if got != got2 {
				t.Errorf("ComputePaymentID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputePaymentID_DifferentInputs(t *testing.T) {
	base := ComputePaymentID("asset", "payer", "EUR", "100", 1000, 0)

	if base == ComputePaymentID("other", "payer", "EUR", "100", 1000, 0) {
		t.Error("Different asset should produce different hash")
	}
	if base == ComputePaymentID("asset", "payer", "USD", "100", 1000, 0) {
		t.Error("Different currency should produce different hash")
	}
	if base == ComputePaymentID("asset", "payer", "EUR", "101", 1000, 0) {
		t.Error("Different amount should produce different hash")
	}
	if base == ComputePaymentID("asset", "payer", "EUR", "100", 1000, 1) {
		t.Error("Different nonce should produce different hash")
	}
}
