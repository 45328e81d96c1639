package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nft_marketplace/internal/config"
	"nft_marketplace/internal/deploy"
	"nft_marketplace/internal/indexer"
)

// Options carries the collaborators the HTTP surface is built on.
type Options struct {
	Deployment *deploy.Deployment
	// Indexer is optional; without it the activity endpoint answers 503.
	Indexer *indexer.Indexer
	Config  *config.Config
	Logger  *zap.Logger
}

// InitRoutes registers the marketplace endpoints on the given Gin engine.
// Mutating endpoints require a bearer token whose subject is the caller's
// address. The returned handler must be closed to disconnect event streams.
func InitRoutes(e *gin.Engine, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
		defer logger.Sync()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	m := newMetrics()
	h := &Handler{
		deployment: opts.Deployment,
		indexer:    opts.Indexer,
		auth:       newAuthenticator(cfg),
		metrics:    m,
		hub:        newEventHub(opts.Deployment.Events, logger.Named("ws")),
		logger:     logger,
	}

	e.Use(m.middleware())

	if cfg.IsDevelopment() {
		e.POST("/auth/token", h.handleIssueToken)
	}

	authed := e.Group("/", h.auth.middleware())
	authed.POST("/listings", h.handleListItem)
	authed.PUT("/listings/:nft/:tokenId", h.handleUpdateItem)
	authed.DELETE("/listings/:nft/:tokenId", h.handleCancelItem)
	authed.POST("/listings/:nft/:tokenId/buy", h.handleBuyItem)
	authed.POST("/holdings/withdraw", h.handleWithdrawHoldings)
	authed.POST("/nfts/:nft/tokens", h.handleMint)
	authed.POST("/nfts/:nft/tokens/:tokenId/approve", h.handleApprove)

	e.GET("/contracts", h.handleContracts)
	e.GET("/listings/:nft/:tokenId", h.handleGetListing)
	e.GET("/holdings/:account", h.handleGetHolding)
	e.GET("/accounts/:account/balance", h.handleGetBalance)
	e.GET("/nfts/:nft/tokens/:tokenId/owner", h.handleOwnerOf)
	e.GET("/nfts/:nft/tokens/:tokenId/activity", h.handleActivity)
	e.GET("/events/ws", h.hub.handle)
	e.GET("/metrics", m.handler())

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	return h
}
