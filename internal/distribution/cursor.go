package distribution

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"fractional-ledger/internal/domain"
)

// EncodeCursor builds the continuation token of a distribution run.
func EncodeCursor(paymentID string, offset int) string {
	return base58.Encode([]byte(paymentID + "|" + strconv.Itoa(offset)))
}

// DecodeCursor parses a continuation token.
func DecodeCursor(cursor string) (string, int, error) {
	raw, err := base58.Decode(cursor)
	if err != nil {
		return "", 0, fmt.Errorf("decode cursor: %w", domain.ErrInvalidCursor)
	}
	s := string(raw)
	sep := strings.LastIndexByte(s, '|')
	if sep <= 0 {
		return "", 0, fmt.Errorf("malformed cursor: %w", domain.ErrInvalidCursor)
	}
	offset, err := strconv.Atoi(s[sep+1:])
	if err != nil || offset < 0 {
		return "", 0, fmt.Errorf("cursor offset %q: %w", s[sep+1:], domain.ErrInvalidCursor)
	}
	return s[:sep], offset, nil
}
