// Package principal validates holder and operator addresses.
//
// An address is the base58 encoding of a 32-byte ed25519 public key.
// Keys that do not decode to a point on the curve are rejected, which
// also rules out program-derived style addresses that nobody can sign for.
package principal

import (
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"fractional-ledger/internal/domain"
)

// AddressLen is the decoded length of an address.
const AddressLen = 32

// Validate checks that s is a well-formed address.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("empty address: %w", domain.ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode address %q: %w", s, domain.ErrInvalidAddress)
	}
	if len(raw) != AddressLen {
		return fmt.Errorf("address %q has %d bytes: %w", s, len(raw), domain.ErrInvalidAddress)
	}
	if !isOnCurve(raw) {
		return fmt.Errorf("address %q is not an ed25519 point: %w", s, domain.ErrInvalidAddress)
	}
	return nil
}

// Encode returns the address of an ed25519 public key.
func Encode(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// Decode returns the public key behind a valid address.
func Decode(s string) (ed25519.PublicKey, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	raw, _ := base58.Decode(s)
	return ed25519.PublicKey(raw), nil
}

func isOnCurve(point []byte) bool {
	if len(point) != AddressLen {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
