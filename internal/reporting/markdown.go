package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders an asset report as Markdown string.
func RenderMarkdown(r *AssetReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Asset Report: %s\n\n", r.AssetID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Summary
	status := "ACTIVE"
	if !r.Summary.Active {
		status = "INACTIVE"
	}
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Status | %s |\n", status))
	sb.WriteString(fmt.Sprintf("| Total Supply | %s |\n", r.Summary.TotalSupply))
	sb.WriteString(fmt.Sprintf("| Holders | %d |\n", r.Summary.HolderCount))
	sb.WriteString(fmt.Sprintf("| Dust | %s |\n", r.Summary.Dust))
	sb.WriteString(fmt.Sprintf("| Version | %d |\n", r.Summary.Version))
	sb.WriteString(fmt.Sprintf("| Updated (ms) | %d |\n", r.Summary.UpdatedAt))
	sb.WriteString("\n")

	// Holders
	sb.WriteString("## Holders\n\n")
	if len(r.Holders) > 0 {
		sb.WriteString("| Holder | Balance | Share |\n")
		sb.WriteString("|--------|---------|-------|\n")
		for _, h := range r.Holders {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d.%02d%% |\n",
				h.Holder, h.Balance, h.ShareBps/100, h.ShareBps%100))
		}
	} else {
		sb.WriteString("No holders.\n")
	}
	sb.WriteString("\n")

	// Payments
	sb.WriteString("## Payments\n\n")
	if len(r.Payments) > 0 {
		sb.WriteString("| Payment | Currency | Amount | Converted | Distributed | Unclaimed | Records |\n")
		sb.WriteString("|---------|----------|--------|-----------|-------------|-----------|---------|\n")
		for _, p := range r.Payments {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %d |\n",
				shortID(p.PaymentID), p.Currency, p.Amount, p.Converted,
				p.Distributed, p.Unclaimed, p.Records))
		}
	} else {
		sb.WriteString("No payments recorded.\n")
	}
	sb.WriteString("\n")

	// Pool
	sb.WriteString("## Liquidity Pool\n\n")
	if r.Pool != nil {
		sb.WriteString("| Reserve Token | Reserve Base | Fee (bps) | Spot Price |\n")
		sb.WriteString("|---------------|--------------|-----------|------------|\n")
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s |\n",
			r.Pool.ReserveToken, r.Pool.ReserveBase, r.Pool.FeeBps, r.Pool.SpotPrice))
	} else {
		sb.WriteString("No pool.\n")
	}
	sb.WriteString("\n")

	// Proposals
	sb.WriteString("## Proposals\n\n")
	if len(r.Proposals) > 0 {
		sb.WriteString("| Proposal | State | Yes | No | Votes | Deadline (ms) |\n")
		sb.WriteString("|----------|-------|-----|----|-------|---------------|\n")
		for _, p := range r.Proposals {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d |\n",
				shortID(p.ProposalID), p.State, p.YesPower, p.NoPower, p.Votes, p.VotingDeadline))
		}
	} else {
		sb.WriteString("No proposals.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
