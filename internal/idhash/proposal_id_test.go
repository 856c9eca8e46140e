package idhash

import (
	"testing"
)

func TestComputeProposalID_Determinism(t *testing.T) {
	payload := []byte(`{"action":"refinance","rate_bps":350}`)

	// Compute multiple times
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		results[i] = ComputeProposalID("asset", "proposer", "loan-facility", payload, 1704067234567, 3)
	}

	// All should be identical
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("Determinism failed: results[%d]=%s != results[0]=%s", i, results[i], results[0])
		}
	}
	if len(results[0]) != 64 {
		t.Errorf("ComputeProposalID() length = %d, want 64", len(results[0]))
	}
}

func TestComputeProposalID_DifferentInputs(t *testing.T) {
	base := ComputeProposalID("asset", "proposer", "target", []byte("a"), 1000, 0)

	if base == ComputeProposalID("asset", "other", "target", []byte("a"), 1000, 0) {
		t.Error("Different proposer should produce different hash")
	}
	if base == ComputeProposalID("asset", "proposer", "target", []byte("b"), 1000, 0) {
		t.Error("Different payload should produce different hash")
	}
	if base == ComputeProposalID("asset", "proposer", "target", []byte("a"), 2000, 0) {
		t.Error("Different creation time should produce different hash")
	}
}
