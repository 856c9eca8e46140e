package api

import (
	"fmt"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/liquidity"
)

// Requests

type allocationRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

type registerAssetRequest struct {
	AssetID     string              `json:"asset_id"`
	Allocations []allocationRequest `json:"allocations"`
}

type paymentRequest struct {
	AssetID  string `json:"asset_id"`
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type claimRequest struct {
	PaymentIDs []string `json:"payment_ids"`
}

type createPoolRequest struct {
	ReserveToken string `json:"reserve_token"`
	ReserveBase  string `json:"reserve_base"`
	FeeBps       uint16 `json:"fee_bps"`
}

type acquireRequest struct {
	BaseIn      string `json:"base_in"`
	MinTokenOut string `json:"min_token_out"`
}

type burnRequest struct {
	TokenIn    string `json:"token_in"`
	MinBaseOut string `json:"min_base_out"`
}

type proposalRequest struct {
	Description string `json:"description"`
	TargetRef   string `json:"target_ref"`
	Payload     []byte `json:"payload"` // base64
}

type voteRequest struct {
	Choice domain.VoteChoice `json:"choice"`
}

// Responses

type balanceResponse struct {
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

type assetResponse struct {
	AssetID     string            `json:"asset_id"`
	TotalSupply string            `json:"total_supply"`
	Display     string            `json:"total_supply_display"`
	Active      bool              `json:"active"`
	Dust        string            `json:"dust"`
	Version     int64             `json:"version"`
	Balances    []balanceResponse `json:"balances,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	UpdatedAt   int64             `json:"updated_at"`
}

type paymentResponse struct {
	PaymentID       string `json:"payment_id"`
	AssetID         string `json:"asset_id"`
	Payer           string `json:"payer"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Rate            string `json:"rate"`
	ConvertedAmount string `json:"converted_amount"`
	Timestamp       int64  `json:"timestamp"`
}

type recordResponse struct {
	PaymentID string `json:"payment_id"`
	Holder    string `json:"holder"`
	Seq       int    `json:"seq"`
	Amount    string `json:"amount"`
	Claimed   bool   `json:"claimed"`
	ClaimedAt int64  `json:"claimed_at,omitempty"`
}

type payoutResponse struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
	Paid   bool   `json:"paid"`
	Error  string `json:"error,omitempty"`
}

type pageResponse struct {
	Payouts    []payoutResponse `json:"payouts"`
	FoldedDust string           `json:"folded_dust"`
	Remainder  string           `json:"remainder"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type poolResponse struct {
	AssetID      string `json:"asset_id"`
	ReserveToken string `json:"reserve_token"`
	ReserveBase  string `json:"reserve_base"`
	InvariantK   string `json:"invariant_k"`
	FeeBps       uint16 `json:"fee_bps"`
	UpdatedAt    int64  `json:"updated_at"`
}

type quoteResponse struct {
	AmountIn  string       `json:"amount_in"`
	Fee       string       `json:"fee"`
	AmountOut string       `json:"amount_out"`
	After     poolResponse `json:"pool_after"`
}

type tradeResponse struct {
	Side        domain.TradeSide `json:"side"`
	Trader      string           `json:"trader"`
	TokenAmount string           `json:"token_amount"`
	BaseAmount  string           `json:"base_amount"`
	Fee         string           `json:"fee"`
	Pool        poolResponse     `json:"pool"`
}

type proposalResponse struct {
	ProposalID     string               `json:"proposal_id"`
	AssetID        string               `json:"asset_id"`
	Proposer       string               `json:"proposer"`
	Description    string               `json:"description"`
	TargetRef      string               `json:"target_ref"`
	Payload        []byte               `json:"payload,omitempty"`
	State          domain.ProposalState `json:"state"`
	YesPower       string               `json:"yes_power"`
	NoPower        string               `json:"no_power"`
	VotingDeadline int64                `json:"voting_deadline"`
	CreatedAt      int64                `json:"created_at"`
	FinalizedAt    int64                `json:"finalized_at,omitempty"`
	ExecutedAt     int64                `json:"executed_at,omitempty"`
	Votes          []voteResponse       `json:"votes,omitempty"`
}

type voteResponse struct {
	Voter  string            `json:"voter"`
	Power  string            `json:"power"`
	Choice domain.VoteChoice `json:"choice"`
	CastAt int64             `json:"cast_at"`
}

type claimResponse struct {
	AssetID string           `json:"asset_id"`
	Holder  string           `json:"holder"`
	Payouts []payoutResponse `json:"payouts"`
}

type eventResponse struct {
	Seq       uint64            `json:"seq"`
	Kind      domain.EventKind  `json:"kind"`
	AssetID   string            `json:"asset_id"`
	Actor     string            `json:"actor,omitempty"`
	RefID     string            `json:"ref_id,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// parseAmount parses a required base-unit amount.
func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := fixedpoint.ParseUnits(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// parseOptionalAmount parses a base-unit amount that defaults to zero.
func parseOptionalAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, s)
}

func toAssetResponse(s *domain.AssetSnapshot) assetResponse {
	resp := assetResponse{
		AssetID:     s.AssetID,
		TotalSupply: s.TotalSupply.Dec(),
		Display:     fixedpoint.Format(&s.TotalSupply),
		Active:      s.Active,
		Dust:        s.Dust.Dec(),
		Version:     s.Version,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	for _, b := range s.Balances {
		if b.Balance.IsZero() {
			continue
		}
		resp.Balances = append(resp.Balances, balanceResponse{Holder: b.Holder, Balance: b.Balance.Dec()})
	}
	return resp
}

func toPaymentResponse(p *domain.PaymentRecord) paymentResponse {
	return paymentResponse{
		PaymentID:       p.PaymentID,
		AssetID:         p.AssetID,
		Payer:           p.Payer,
		Amount:          p.Amount.Dec(),
		Currency:        p.Currency,
		Rate:            p.Rate.Dec(),
		ConvertedAmount: p.ConvertedAmount.Dec(),
		Timestamp:       p.Timestamp,
	}
}

func toRecordResponses(records []*domain.DistributionRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{
			PaymentID: r.PaymentID,
			Holder:    r.Holder,
			Seq:       r.Seq,
			Amount:    r.Amount.Dec(),
			Claimed:   r.Claimed,
			ClaimedAt: r.ClaimedAt,
		})
	}
	return out
}

func toPageResponses(pages []*distribution.Result) []pageResponse {
	out := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		page := pageResponse{
			Payouts:    make([]payoutResponse, 0, len(p.Payouts)),
			FoldedDust: p.FoldedDust.Dec(),
			Remainder:  p.Remainder.Dec(),
			NextCursor: p.NextCursor,
		}
		for _, po := range p.Payouts {
			resp := payoutResponse{Holder: po.Holder, Amount: po.Amount.Dec(), Paid: po.Paid}
			if po.Err != nil {
				resp.Error = po.Err.Error()
			}
			page.Payouts = append(page.Payouts, resp)
		}
		out = append(out, page)
	}
	return out
}

func toClaimResponse(r *distribution.ClaimResult) claimResponse {
	resp := claimResponse{AssetID: r.AssetID, Holder: r.Holder, Payouts: make([]payoutResponse, 0, len(r.Payouts))}
	for _, po := range r.Payouts {
		p := payoutResponse{Holder: r.Holder, Amount: po.Amount, Paid: po.Paid}
		if po.Err != nil {
			p.Error = po.Err.Error()
		}
		resp.Payouts = append(resp.Payouts, p)
	}
	return resp
}

func toPoolResponse(p *domain.Pool) poolResponse {
	return poolResponse{
		AssetID:      p.AssetID,
		ReserveToken: p.ReserveToken.Dec(),
		ReserveBase:  p.ReserveBase.Dec(),
		InvariantK:   p.InvariantK.Dec(),
		FeeBps:       p.FeeBps,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toQuoteResponse(q *liquidity.Quote) quoteResponse {
	return quoteResponse{
		AmountIn:  q.AmountIn.Dec(),
		Fee:       q.Fee.Dec(),
		AmountOut: q.AmountOut.Dec(),
		After:     toPoolResponse(&q.After),
	}
}

func toTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		Side:        t.Side,
		Trader:      t.Trader,
		TokenAmount: t.TokenAmount.Dec(),
		BaseAmount:  t.BaseAmount.Dec(),
		Fee:         t.Fee.Dec(),
		Pool:        toPoolResponse(&t.PoolAfter),
	}
}

func toProposalResponse(p *domain.Proposal, votes []domain.VoteRecord) proposalResponse {
	resp := proposalResponse{
		ProposalID:     p.ProposalID,
		AssetID:        p.AssetID,
		Proposer:       p.Proposer,
		Description:    p.Description,
		TargetRef:      p.TargetRef,
		Payload:        p.ExecutionPayload,
		State:          p.State,
		YesPower:       p.YesPower.Dec(),
		NoPower:        p.NoPower.Dec(),
		VotingDeadline: p.VotingDeadline,
		CreatedAt:      p.CreatedAt,
		FinalizedAt:    p.FinalizedAt,
		ExecutedAt:     p.ExecutedAt,
	}
	for _, v := range votes {
		resp.Votes = append(resp.Votes, voteResponse{Voter: v.Voter, Power: v.Power.Dec(), Choice: v.Choice, CastAt: v.CastAt})
	}
	return resp
}

func toEventResponse(e domain.LedgerEvent) eventResponse {
	return eventResponse{
		Seq:       e.Seq,
		Kind:      e.Kind,
		AssetID:   e.AssetID,
		Actor:     e.Actor,
		RefID:     e.RefID,
		Attrs:     e.Attrs,
		Timestamp: e.Timestamp,
	}
}
