package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/governance"
	"fractional-ledger/internal/intake"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/principal"
	"fractional-ledger/internal/reporting"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// authorizedPrincipal returns the calling principal, rendering 401 when
// the header is missing or malformed. Service principals are accepted as
// configured; every other caller must present a valid address.
func (s *Server) authorizedPrincipal(c *gin.Context) (string, bool) {
	p := c.GetHeader(PrincipalHeader)
	if p == "" {
		renderError(c, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if s.engine.IsAdmin(p) || s.engine.IsIntake(p) {
		return p, true
	}
	if err := principal.Validate(p); err != nil {
		renderError(c, http.StatusUnauthorized, err.Error())
		return "", false
	}
	return p, true
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		renderError(c, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// Assets

func (s *Server) listAssetsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": s.engine.Ledger.Assets()})
}

func (s *Server) registerAssetHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req registerAssetRequest
	if !bindJSON(c, &req) {
		return
	}

	allocations := make([]ledger.Allocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		amount, err := parseAmount("amount", a.Amount)
		if err != nil {
			renderError(c, http.StatusBadRequest, err.Error())
			return
		}
		allocations = append(allocations, ledger.Allocation{Holder: a.Holder, Amount: *amount})
	}

	snap, err := s.engine.RegisterAsset(c.Request.Context(), caller, req.AssetID, allocations)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAssetResponse(snap))
}

func (s *Server) assetDetailsHandler(c *gin.Context) {
	snap, err := s.engine.Ledger.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	resp := toAssetResponse(snap)
	resp.Balances = nil
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deactivateAssetHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	if err := s.engine.DeactivateAsset(c.Request.Context(), caller, c.Param("id")); err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": c.Param("id"), "active": false})
}

func (s *Server) listHoldersHandler(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}
	if limit <= 0 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	holders, total, err := s.engine.Ledger.Holders(c.Request.Context(), c.Param("id"), offset, limit)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	out := make([]balanceResponse, 0, len(holders))
	for _, h := range holders {
		out = append(out, balanceResponse{Holder: h.Holder, Balance: h.Balance.Dec()})
	}
	c.JSON(http.StatusOK, gin.H{"holders": out, "total": total, "offset": offset, "limit": limit})
}

func (s *Server) balanceHandler(c *gin.Context) {
	bal, err := s.engine.Ledger.Balance(c.Request.Context(), c.Param("id"), c.Param("holder"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Holder: c.Param("holder"), Balance: bal.Dec()})
}

func (s *Server) assetReportHandler(c *gin.Context) {
	report, err := s.engine.Reports.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(reporting.RenderMarkdown(report)))
}

// Payments

func (s *Server) createPaymentHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	if !s.engine.IsIntake(caller) {
		renderError(c, http.StatusForbidden, domain.ErrUnauthorized.Error())
		return
	}
	var req paymentRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.engine.Intake.Process(c.Request.Context(), intake.Payment{
		AssetID:  req.AssetID,
		Payer:    req.Payer,
		Amount:   amount,
		Currency: req.Currency,
	})
	if receipt == nil {
		s.renderEngineError(c, err)
		return
	}

	body := gin.H{
		"payment": toPaymentResponse(&receipt.Record),
		"pages":   toPageResponses(receipt.Pages),
	}
	if err != nil {
		// The payment is recorded; the distribution can be resumed.
		body["error"] = err.Error()
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusCreated, body)
}

func (s *Server) resumePaymentHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	if !s.engine.IsIntake(caller) {
		renderError(c, http.StatusForbidden, domain.ErrUnauthorized.Error())
		return
	}

	pages, err := s.engine.Intake.Resume(c.Request.Context(), c.Param("id"))
	if err != nil && len(pages) == 0 {
		s.renderEngineError(c, err)
		return
	}
	body := gin.H{"payment_id": c.Param("id"), "pages": toPageResponses(pages)}
	if err != nil {
		body["error"] = err.Error()
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) paymentDetailsHandler(c *gin.Context) {
	p, err := s.engine.Intake.Payment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(p))
}

func (s *Server) listPaymentsHandler(c *gin.Context) {
	payments, err := s.engine.Intake.Payments(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func (s *Server) paymentRecordsHandler(c *gin.Context) {
	records, err := s.engine.Distributor.Records(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": toRecordResponses(records)})
}

func (s *Server) paymentStatementHandler(c *gin.Context) {
	rows, err := s.engine.Reports.Statement(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=statement-"+c.Param("id")+".csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(reporting.RenderStatementCSV(rows)))
}

// Claims

func (s *Server) claimHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req claimRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	res, err := s.engine.Distributor.ClaimUnclaimedYield(c.Request.Context(), caller, c.Param("id"), req.PaymentIDs)
	if err != nil {
		if res != nil {
			c.JSON(StatusFor(err), gin.H{"claim": toClaimResponse(res), "error": err.Error()})
			return
		}
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toClaimResponse(res))
}

func (s *Server) unclaimedHandler(c *gin.Context) {
	records, err := s.engine.Distributor.Unclaimed(c.Request.Context(), c.Param("id"), c.Param("holder"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": toRecordResponses(records)})
}

// Pools

func (s *Server) createPoolHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req createPoolRequest
	if !bindJSON(c, &req) {
		return
	}
	reserveToken, err := parseAmount("reserve_token", req.ReserveToken)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}
	reserveBase, err := parseAmount("reserve_base", req.ReserveBase)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := s.engine.Pools.CreatePool(c.Request.Context(), caller, c.Param("id"), reserveToken, reserveBase, req.FeeBps)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPoolResponse(pool))
}

func (s *Server) poolDetailsHandler(c *gin.Context) {
	pool, err := s.engine.Pools.Pool(c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPoolResponse(pool))
}

func (s *Server) poolQuoteHandler(c *gin.Context) {
	amount, err := parseAmount("amount", c.Query("amount"))
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	switch side := domain.TradeSide(c.DefaultQuery("side", string(domain.TradeSideAcquire))); side {
	case domain.TradeSideAcquire:
		q, err := s.engine.Pools.QuoteAcquire(c.Param("id"), amount)
		if err != nil {
			s.renderEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, toQuoteResponse(q))
	case domain.TradeSideBurn:
		q, err := s.engine.Pools.QuoteBurn(c.Param("id"), amount)
		if err != nil {
			s.renderEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, toQuoteResponse(q))
	default:
		renderError(c, http.StatusBadRequest, "side must be acquire or burn")
	}
}

func (s *Server) acquireHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req acquireRequest
	if !bindJSON(c, &req) {
		return
	}
	baseIn, err := parseAmount("base_in", req.BaseIn)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}
	minOut, err := parseOptionalAmount("min_token_out", req.MinTokenOut)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := s.engine.Pools.AcquireTokens(c.Request.Context(), caller, c.Param("id"), baseIn, minOut)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeResponse(trade))
}

func (s *Server) burnHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req burnRequest
	if !bindJSON(c, &req) {
		return
	}
	tokenIn, err := parseAmount("token_in", req.TokenIn)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}
	minOut, err := parseOptionalAmount("min_base_out", req.MinBaseOut)
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	trade, err := s.engine.Pools.BurnAndLiquidate(c.Request.Context(), caller, c.Param("id"), tokenIn, minOut)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTradeResponse(trade))
}

// Governance

func (s *Server) createProposalHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req proposalRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.engine.Governance.CreateProposal(c.Request.Context(), caller, governance.ProposalInput{
		AssetID:     c.Param("id"),
		Description: req.Description,
		Payload:     req.Payload,
		TargetRef:   req.TargetRef,
	})
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProposalResponse(p, nil))
}

func (s *Server) listProposalsHandler(c *gin.Context) {
	proposals := s.engine.Governance.Proposals(c.Param("id"))
	out := make([]proposalResponse, 0, len(proposals))
	for i := range proposals {
		out = append(out, toProposalResponse(&proposals[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"proposals": out})
}

func (s *Server) governanceRightsHandler(c *gin.Context) {
	ok, err := s.engine.Governance.HasGovernanceRights(c.Request.Context(), c.Param("id"), c.Param("holder"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holder": c.Param("holder"), "has_rights": ok})
}

func (s *Server) proposalDetailsHandler(c *gin.Context) {
	p, err := s.engine.Governance.Proposal(c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(p, s.engine.Governance.Votes(p.ProposalID)))
}

func (s *Server) voteHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	var req voteRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := s.engine.Governance.CastVote(c.Request.Context(), caller, c.Param("id"), req.Choice)
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(p, nil))
}

func (s *Server) finalizeHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	p, err := s.engine.Governance.Finalize(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(p, nil))
}

func (s *Server) executeHandler(c *gin.Context) {
	caller, ok := s.authorizedPrincipal(c)
	if !ok {
		return
	}
	p, err := s.engine.Governance.ExecuteProposal(c.Request.Context(), caller, c.Param("id"))
	if p != nil && err != nil {
		// Executed but dispatch failed; the transition stands.
		c.JSON(http.StatusAccepted, gin.H{"proposal": toProposalResponse(p, nil), "error": err.Error()})
		return
	}
	if err != nil {
		s.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProposalResponse(p, nil))
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return v, nil
}
