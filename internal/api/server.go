// Package api exposes the ledger engine over HTTP with gin.
//
// Every mutating route acts on behalf of the principal named in the
// X-Principal header. Amounts travel as base-unit decimal strings.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fractional-ledger/internal/engine"
	"fractional-ledger/internal/observability"
)

// PrincipalHeader carries the calling principal.
const PrincipalHeader = "X-Principal"

// Server serves the HTTP API.
type Server struct {
	engine   *engine.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
	version  string
}

// Options configures a Server.
type Options struct {
	Engine  *engine.Engine
	Logger  *zap.Logger
	Version string

	// CheckOrigin validates websocket origins. Nil accepts same-host only.
	CheckOrigin func(r *http.Request) bool
}

// NewServer creates an API server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		engine:  opts.Engine,
		logger:  opts.Logger.Named("api"),
		version: opts.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

// Handler returns the gin engine with every route installed.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.InstallAPI(r)
	return r
}

// InstallAPI registers the ledger API handlers with gin.
func (s *Server) InstallAPI(r *gin.Engine) {
	r.GET("/health", s.healthHandler)
	r.GET("/status", s.statusHandler)
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/events", s.eventsHandler)

	v1 := r.Group("/api/v1")

	v1.GET("/assets", s.listAssetsHandler)
	v1.POST("/assets", s.registerAssetHandler)
	v1.GET("/assets/:id", s.assetDetailsHandler)
	v1.POST("/assets/:id/deactivate", s.deactivateAssetHandler)
	v1.GET("/assets/:id/holders", s.listHoldersHandler)
	v1.GET("/assets/:id/balances/:holder", s.balanceHandler)
	v1.GET("/assets/:id/report", s.assetReportHandler)

	v1.POST("/payments", s.createPaymentHandler)
	v1.GET("/payments/:id", s.paymentDetailsHandler)
	v1.POST("/payments/:id/resume", s.resumePaymentHandler)
	v1.GET("/payments/:id/records", s.paymentRecordsHandler)
	v1.GET("/payments/:id/statement.csv", s.paymentStatementHandler)
	v1.GET("/assets/:id/payments", s.listPaymentsHandler)

	v1.POST("/assets/:id/claims", s.claimHandler)
	v1.GET("/assets/:id/unclaimed/:holder", s.unclaimedHandler)

	v1.POST("/assets/:id/pool", s.createPoolHandler)
	v1.GET("/assets/:id/pool", s.poolDetailsHandler)
	v1.GET("/assets/:id/pool/quote", s.poolQuoteHandler)
	v1.POST("/assets/:id/pool/acquire", s.acquireHandler)
	v1.POST("/assets/:id/pool/burn", s.burnHandler)

	v1.POST("/assets/:id/proposals", s.createProposalHandler)
	v1.GET("/assets/:id/proposals", s.listProposalsHandler)
	v1.GET("/assets/:id/governance/:holder", s.governanceRightsHandler)
	v1.GET("/proposals/:id", s.proposalDetailsHandler)
	v1.POST("/proposals/:id/votes", s.voteHandler)
	v1.POST("/proposals/:id/finalize", s.finalizeHandler)
	v1.POST("/proposals/:id/execute", s.executeHandler)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) statusHandler(c *gin.Context) {
	st := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"version":          s.version,
		"assets":           st.Assets,
		"pools":            st.Pools,
		"event_seq":        st.EventSeq,
		"pending_events":   st.PendingEvents,
		"feed_subscribers": st.FeedSubscribers,
		"uptime_seconds":   int64(st.Uptime.Seconds()),
	})
}
