package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeProposalID computes a deterministic proposal_id using SHA256.
// Formula: SHA256(asset_id|proposer|target_ref|payload_hash|created_at|nonce)
// Returns hex-encoded hash (64 characters).
func ComputeProposalID(
	assetID string,
	proposer string,
	targetRef string,
	payload []byte,
	createdAt int64,
	nonce uint64,
) string {
	payloadHash := sha256.Sum256(payload)

	data := fmt.Sprintf("%s|%s|%s|%x|%d|%d",
		assetID,
		proposer,
		targetRef,
		payloadHash[:],
		createdAt,
		nonce,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
