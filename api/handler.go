package api

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/deploy"
	"nft_marketplace/internal/indexer"
	"nft_marketplace/internal/marketplace"
	"nft_marketplace/internal/nft"
	"nft_marketplace/internal/units"
)

// Handler implements the HTTP handlers for marketplace and collection operations.
type Handler struct {
	deployment *deploy.Deployment
	indexer    *indexer.Indexer
	auth       *authenticator
	metrics    *metrics
	hub        *eventHub
	logger     *zap.Logger
}

// Close disconnects every event stream client.
func (h *Handler) Close() {
	h.hub.close()
}

// Amount is a value rendered both in wei and in ether.
type Amount struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

func newAmount(wei *big.Int) Amount {
	if wei == nil {
		wei = new(big.Int)
	}
	return Amount{Wei: wei.String(), Ether: units.FormatEther(wei)}
}

// ListingResponse is the body returned for a listing lookup.
type ListingResponse struct {
	NFT     chain.Address `json:"nft"`
	TokenID uint64        `json:"token_id"`
	Listed  bool          `json:"listed"`
	Seller  chain.Address `json:"seller"`
	Price   Amount        `json:"price"`
}

// TxResponse is the body returned by every state-changing endpoint.
type TxResponse struct {
	TxID    string  `json:"tx_id"`
	Fee     Amount  `json:"fee"`
	TokenID *uint64 `json:"token_id,omitempty"`
	Amount  *Amount `json:"amount,omitempty"`
}

func txResponse(r chain.Receipt) TxResponse {
	return TxResponse{TxID: r.TxID, Fee: newAmount(r.Fee)}
}

// ContractsResponse describes the deployment the server fronts.
type ContractsResponse struct {
	ChainID     uint64        `json:"chain_id"`
	Marketplace chain.Address `json:"marketplace"`
	BasicNFT    chain.Address `json:"basic_nft"`
	Fee         Amount        `json:"fee"`
}

func (h *Handler) handleContracts(c *gin.Context) {
	c.JSON(http.StatusOK, ContractsResponse{
		ChainID:     h.deployment.Node.ChainID(),
		Marketplace: h.deployment.MarketplaceAddress,
		BasicNFT:    h.deployment.NFTAddress,
		Fee:         newAmount(h.deployment.Node.Fee()),
	})
}

func (h *Handler) handleListItem(c *gin.Context) {
	var req struct {
		NFT     chain.Address `json:"nft"`
		TokenID *uint64       `json:"token_id" binding:"required"`
		Price   string        `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	price, err := units.ParseEther(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := marketplace.ListingKey{NFT: req.NFT, TokenID: *req.TokenID}
	receipt, err := h.deployment.ListItem(c.Request.Context(), callerFrom(c), key, price)
	h.metrics.observe("listItem", err)
	if err != nil {
		h.respondError(c, "listItem", err)
		return
	}
	c.JSON(http.StatusCreated, txResponse(receipt))
}

func (h *Handler) handleUpdateItem(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	var req struct {
		Price string `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	price, err := units.ParseEther(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.deployment.UpdateItem(c.Request.Context(), callerFrom(c), key, price)
	h.metrics.observe("updateItem", err)
	if err != nil {
		h.respondError(c, "updateItem", err)
		return
	}
	c.JSON(http.StatusOK, txResponse(receipt))
}

func (h *Handler) handleCancelItem(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	receipt, err := h.deployment.CancelItem(c.Request.Context(), callerFrom(c), key)
	h.metrics.observe("cancelItem", err)
	if err != nil {
		h.respondError(c, "cancelItem", err)
		return
	}
	c.JSON(http.StatusOK, txResponse(receipt))
}

func (h *Handler) handleBuyItem(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	value, err := units.ParseEther(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.deployment.BuyItem(c.Request.Context(), callerFrom(c), key, value)
	h.metrics.observe("buyItem", err)
	if err != nil {
		h.respondError(c, "buyItem", err)
		return
	}
	c.JSON(http.StatusOK, txResponse(receipt))
}

func (h *Handler) handleWithdrawHoldings(c *gin.Context) {
	receipt, amount, err := h.deployment.WithdrawHoldings(c.Request.Context(), callerFrom(c))
	h.metrics.observe("withdrawHoldings", err)
	if err != nil {
		h.respondError(c, "withdrawHoldings", err)
		return
	}
	resp := txResponse(receipt)
	paid := newAmount(amount)
	resp.Amount = &paid
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleGetListing(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	listing, listed, err := h.deployment.GetListing(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, "getListing", err)
		return
	}
	c.JSON(http.StatusOK, ListingResponse{
		NFT:     key.NFT,
		TokenID: key.TokenID,
		Listed:  listed,
		Seller:  listing.Seller,
		Price:   newAmount(listing.Price),
	})
}

func (h *Handler) handleGetHolding(c *gin.Context) {
	account, ok := h.account(c)
	if !ok {
		return
	}
	holding, err := h.deployment.GetHolding(c.Request.Context(), account)
	if err != nil {
		h.respondError(c, "getHolding", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "holding": newAmount(holding)})
}

func (h *Handler) handleGetBalance(c *gin.Context) {
	account, ok := h.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "balance": newAmount(h.deployment.Node.BalanceOf(account))})
}

func (h *Handler) handleMint(c *gin.Context) {
	nftAddr, err := chain.ParseAddress(c.Param("nft"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receipt, tokenID, err := h.deployment.MintNft(c.Request.Context(), callerFrom(c), nftAddr)
	h.metrics.observe("mintNft", err)
	if err != nil {
		h.respondError(c, "mintNft", err)
		return
	}
	resp := txResponse(receipt)
	resp.TokenID = &tokenID
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) handleApprove(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	var req struct {
		To chain.Address `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	receipt, err := h.deployment.ApproveNft(c.Request.Context(), callerFrom(c), req.To, key)
	h.metrics.observe("approve", err)
	if err != nil {
		h.respondError(c, "approve", err)
		return
	}
	c.JSON(http.StatusOK, txResponse(receipt))
}

func (h *Handler) handleOwnerOf(c *gin.Context) {
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	owner, err := h.deployment.OwnerOf(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, "ownerOf", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nft": key.NFT, "token_id": key.TokenID, "owner": owner})
}

func (h *Handler) handleActivity(c *gin.Context) {
	if h.indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event indexer not configured"})
		return
	}
	key, ok := h.listingKey(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := h.indexer.Activity(c.Request.Context(), key, limit)
	if err != nil {
		h.logger.Error("Error querying activity", zap.Stringer("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}

// listingKey reads the :nft and :tokenId path parameters. It writes a 400
// response and returns false when either is malformed.
func (h *Handler) listingKey(c *gin.Context) (marketplace.ListingKey, bool) {
	nftAddr, err := chain.ParseAddress(c.Param("nft"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return marketplace.ListingKey{}, false
	}
	tokenID, err := strconv.ParseUint(c.Param("tokenId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return marketplace.ListingKey{}, false
	}
	return marketplace.ListingKey{NFT: nftAddr, TokenID: tokenID}, true
}

// account resolves the :account path parameter, which is either an address
// or the name of an account created at startup.
func (h *Handler) account(c *gin.Context) (chain.Address, bool) {
	param := c.Param("account")
	if addr, err := chain.ParseAddress(param); err == nil {
		return addr, true
	}
	if addr, ok := h.deployment.Node.Account(param); ok {
		return addr, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
	return chain.ZeroAddress, false
}

func (h *Handler) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.String("op", op), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	h.logger.Warn("request rejected", fields...)

	body := gin.H{"error": err.Error()}
	if kind := marketplace.KindOf(err); kind != marketplace.KindUnknown {
		body["kind"] = kind.String()
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch marketplace.KindOf(err) {
	case marketplace.KindNotOwner:
		return http.StatusForbidden
	case marketplace.KindNftAlreadyListed, marketplace.KindNoHoldings:
		return http.StatusConflict
	case marketplace.KindMarketplaceNotApproved:
		return http.StatusPreconditionFailed
	case marketplace.KindNftNotListed:
		return http.StatusNotFound
	case marketplace.KindInsufficientTransfer:
		return http.StatusPaymentRequired
	case marketplace.KindInvalidPrice:
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, nft.ErrNonexistentToken), errors.Is(err, deploy.ErrNotCollection):
		return http.StatusNotFound
	case errors.Is(err, nft.ErrNotAuthorized), errors.Is(err, nft.ErrWrongOwner):
		return http.StatusForbidden
	case errors.Is(err, nft.ErrSelfApproval), errors.Is(err, nft.ErrZeroRecipient):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
