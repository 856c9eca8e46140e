package principal

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
)

func TestValidate_GeneratedKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	addr := Encode(pub)
	require.NoError(t, Validate(addr))

	decoded, err := Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"not base58", "0OIl"},
		{"short", base58.Encode([]byte{1, 2, 3})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.addr)
			assert.ErrorIs(t, err, domain.ErrInvalidAddress)
		})
	}
}

func TestValidate_OffCurve(t *testing.T) {
	// Roughly half of all 32-byte strings are not valid point encodings.
	// Search deterministically for one.
	for i := 0; i < 256; i++ {
		h := sha256.Sum256([]byte{byte(i)})
		if isOnCurve(h[:]) {
			continue
		}
		err := Validate(base58.Encode(h[:]))
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
		return
	}
	t.Fatal("no off-curve candidate found")
}
