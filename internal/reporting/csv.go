package reporting

import (
	"fmt"
	"strings"
)

// RenderStatementCSV renders payment statement rows as CSV string.
func RenderStatementCSV(rows []StatementRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("payment_id,asset_id,seq,holder,amount,claimed,created_at,claimed_at\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%s,%s,%t,%d,%d\n",
			r.PaymentID,
			r.AssetID,
			r.Seq,
			r.Holder,
			r.Amount,
			r.Claimed,
			r.CreatedAt,
			r.ClaimedAt,
		))
	}

	return sb.String()
}

// RenderHoldersCSV renders holder positions as CSV string.
func RenderHoldersCSV(assetID string, rows []HolderRow) string {
	var sb strings.Builder

	sb.WriteString("asset_id,holder,balance,share_bps\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d\n", assetID, r.Holder, r.Balance, r.ShareBps))
	}

	return sb.String()
}
