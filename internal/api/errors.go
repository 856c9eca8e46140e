package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrUnauthorized, http.StatusForbidden},

	{domain.ErrAssetNotFound, http.StatusNotFound},
	{domain.ErrPoolNotFound, http.StatusNotFound},
	{domain.ErrProposalNotFound, http.StatusNotFound},
	{domain.ErrNothingToClaim, http.StatusNotFound},
	{storage.ErrNotFound, http.StatusNotFound},

	{domain.ErrAssetExists, http.StatusConflict},
	{domain.ErrPoolExists, http.StatusConflict},
	{domain.ErrAlreadyExecuted, http.StatusConflict},
	{domain.ErrAlreadyClaimed, http.StatusConflict},
	{domain.ErrAlreadyDistributed, http.StatusConflict},
	{domain.ErrProposalNotOpen, http.StatusConflict},
	{domain.ErrProposalNotPassed, http.StatusConflict},
	{domain.ErrProposalExpired, http.StatusConflict},
	{domain.ErrVotingInProgress, http.StatusConflict},
	{storage.ErrDuplicateKey, http.StatusConflict},

	{domain.ErrZeroAmount, http.StatusBadRequest},
	{domain.ErrInvalidAddress, http.StatusBadRequest},
	{domain.ErrInvalidCursor, http.StatusBadRequest},
	{storage.ErrInvalidInput, http.StatusBadRequest},

	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{domain.ErrAssetInactive, http.StatusUnprocessableEntity},
	{domain.ErrSlippageExceeded, http.StatusUnprocessableEntity},
	{domain.ErrArithmeticOverflow, http.StatusUnprocessableEntity},
	{domain.ErrInvalidOracleResult, http.StatusUnprocessableEntity},
	{domain.ErrInvalidReserves, http.StatusUnprocessableEntity},
	{domain.ErrEmptySupply, http.StatusUnprocessableEntity},
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func renderError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) renderEngineError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		renderError(c, status, "internal error")
		return
	}
	renderError(c, status, err.Error())
}
