package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputePaymentID computes a deterministic payment_id using SHA256.
// Formula: SHA256(asset_id|payer|currency|amount|timestamp|nonce)
// Returns hex-encoded hash (64 characters).
func ComputePaymentID(
	assetID string,
	payer string,
	currency string,
	amount string,
	timestamp int64,
	nonce uint64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		assetID,
		payer,
		currency,
		amount,
		timestamp,
		nonce,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
