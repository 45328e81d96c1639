package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nft_marketplace/api"
	"nft_marketplace/internal/config"
	"nft_marketplace/internal/deploy"
	"nft_marketplace/internal/marketplace"
)

func newTestAPI(t *testing.T) (*httptest.Server, *deploy.Deployment) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	cfg := config.Default()
	d, err := deploy.Deploy(cfg, logger)
	require.NoError(t, err)

	router := gin.New()
	h := api.InitRoutes(router, api.Options{Deployment: d, Config: cfg, Logger: logger})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return srv, d
}

func login(t *testing.T, url, account string) *Client {
	t.Helper()
	c := New(url, zaptest.NewLogger(t))
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Login(context.Background(), account))
	return c
}

func TestClient_TradeFlow(t *testing.T) {
	srv, d := newTestAPI(t)
	ctx := context.Background()
	seller := login(t, srv.URL, "deployer")
	buyer := login(t, srv.URL, "user")
	assert.Equal(t, d.Deployer, seller.Account())

	contracts, err := buyer.Contracts(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.MarketplaceAddress, contracts.Marketplace)
	assert.Equal(t, d.NFTAddress, contracts.BasicNFT)
	assert.Equal(t, uint64(31337), contracts.ChainID)

	minted, err := seller.Mint(ctx, d.NFTAddress)
	require.NoError(t, err)
	require.NotNil(t, minted.TokenID)
	key := marketplace.ListingKey{NFT: d.NFTAddress, TokenID: *minted.TokenID}

	_, err = seller.ListItem(ctx, key, "0.02")
	assert.ErrorIs(t, err, marketplace.ErrMarketplaceNotApproved)

	_, err = seller.Approve(ctx, key, d.MarketplaceAddress)
	require.NoError(t, err)
	_, err = seller.ListItem(ctx, key, "0.02")
	require.NoError(t, err)
	_, err = seller.UpdateItem(ctx, key, "0.03")
	require.NoError(t, err)

	listing, err := buyer.GetListing(ctx, key)
	require.NoError(t, err)
	assert.True(t, listing.Listed)
	assert.Equal(t, "0.03", listing.Price.Ether)

	_, err = buyer.BuyItem(ctx, key, "0.02")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.ErrorIs(t, err, marketplace.ErrInsufficientTransfer)

	_, err = buyer.BuyItem(ctx, key, "0.03")
	require.NoError(t, err)

	holding, err := seller.GetHolding(ctx, "deployer")
	require.NoError(t, err)
	assert.Equal(t, "0.03", holding.Ether)

	paid, err := seller.WithdrawHoldings(ctx)
	require.NoError(t, err)
	require.NotNil(t, paid.Amount)
	assert.Equal(t, "30000000000000000", paid.Amount.Wei)

	_, err = seller.WithdrawHoldings(ctx)
	assert.ErrorIs(t, err, marketplace.ErrNoHoldings)
}

func TestClient_CancelItem(t *testing.T) {
	srv, d := newTestAPI(t)
	ctx := context.Background()
	seller := login(t, srv.URL, "deployer")
	other := login(t, srv.URL, "user")

	minted, err := seller.Mint(ctx, d.NFTAddress)
	require.NoError(t, err)
	key := marketplace.ListingKey{NFT: d.NFTAddress, TokenID: *minted.TokenID}
	_, err = seller.Approve(ctx, key, d.MarketplaceAddress)
	require.NoError(t, err)
	_, err = seller.ListItem(ctx, key, "1")
	require.NoError(t, err)

	_, err = other.CancelItem(ctx, key)
	assert.ErrorIs(t, err, marketplace.ErrNotOwner)

	_, err = seller.CancelItem(ctx, key)
	require.NoError(t, err)
	_, err = seller.CancelItem(ctx, key)
	assert.ErrorIs(t, err, marketplace.ErrNftNotListed)
}

func TestClient_Errors(t *testing.T) {
	srv, d := newTestAPI(t)
	ctx := context.Background()

	anonymous := New(srv.URL, zaptest.NewLogger(t))
	defer anonymous.Close()
	_, err := anonymous.Mint(ctx, d.NFTAddress)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	err = anonymous.Login(ctx, "mallory")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "unknown account", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}
