// Package client talks to the marketplace HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"resty.dev/v3"

	"nft_marketplace/api"
	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/marketplace"
)

// ErrNotLoggedIn is returned by mutating calls made before Login.
var ErrNotLoggedIn = errors.New("client has no bearer token")

var sentinels = []*marketplace.Error{
	marketplace.ErrNotOwner,
	marketplace.ErrNftAlreadyListed,
	marketplace.ErrMarketplaceNotApproved,
	marketplace.ErrNftNotListed,
	marketplace.ErrInsufficientTransfer,
	marketplace.ErrInvalidPrice,
	marketplace.ErrNoHoldings,
}

// APIError is a non-2xx answer from the server. When the server reports a
// marketplace error kind, errors.Is matches the corresponding sentinel.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	for _, s := range sentinels {
		if s.Kind.String() == e.Kind {
			return s
		}
	}
	return nil
}

// Client is a marketplace API client acting as one account.
type Client struct {
	http    *resty.Client
	account chain.Address
	token   string
	logger  *zap.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json"),
		logger: logger,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Account returns the address the client acts as, once logged in.
func (c *Client) Account() chain.Address {
	return c.account
}

// Login obtains a bearer token for a named development account.
func (c *Client) Login(ctx context.Context, account string) error {
	var resp struct {
		Token   string        `json:"token"`
		Address chain.Address `json:"address"`
	}
	if err := c.do(ctx, resty.MethodPost, "/auth/token", map[string]string{"account": account}, &resp, false); err != nil {
		return err
	}
	c.token = resp.Token
	c.account = resp.Address
	c.logger.Debug("logged in", zap.String("account", account), zap.Stringer("address", resp.Address))
	return nil
}

// Contracts returns the addresses of the deployed contracts.
func (c *Client) Contracts(ctx context.Context) (api.ContractsResponse, error) {
	var resp api.ContractsResponse
	err := c.do(ctx, resty.MethodGet, "/contracts", nil, &resp, false)
	return resp, err
}

// Mint mints a token of the collection at nft to the client's account.
func (c *Client) Mint(ctx context.Context, nft chain.Address) (api.TxResponse, error) {
	var resp api.TxResponse
	err := c.do(ctx, resty.MethodPost, "/nfts/"+nft.String()+"/tokens", nil, &resp, true)
	return resp, err
}

// Approve approves spender for one token.
func (c *Client) Approve(ctx context.Context, key marketplace.ListingKey, spender chain.Address) (api.TxResponse, error) {
	var resp api.TxResponse
	path := fmt.Sprintf("/nfts/%s/tokens/%d/approve", key.NFT, key.TokenID)
	err := c.do(ctx, resty.MethodPost, path, map[string]string{"to": spender.String()}, &resp, true)
	return resp, err
}

// ListItem lists a token at a price given in ether.
func (c *Client) ListItem(ctx context.Context, key marketplace.ListingKey, price string) (api.TxResponse, error) {
	var resp api.TxResponse
	body := map[string]any{"nft": key.NFT.String(), "token_id": key.TokenID, "price": price}
	err := c.do(ctx, resty.MethodPost, "/listings", body, &resp, true)
	return resp, err
}

// UpdateItem changes the price of a listing.
func (c *Client) UpdateItem(ctx context.Context, key marketplace.ListingKey, price string) (api.TxResponse, error) {
	var resp api.TxResponse
	err := c.do(ctx, resty.MethodPut, listingPath(key), map[string]string{"price": price}, &resp, true)
	return resp, err
}

// CancelItem removes a listing.
func (c *Client) CancelItem(ctx context.Context, key marketplace.ListingKey) (api.TxResponse, error) {
	var resp api.TxResponse
	err := c.do(ctx, resty.MethodDelete, listingPath(key), nil, &resp, true)
	return resp, err
}

// BuyItem buys a listed token paying value ether.
func (c *Client) BuyItem(ctx context.Context, key marketplace.ListingKey, value string) (api.TxResponse, error) {
	var resp api.TxResponse
	err := c.do(ctx, resty.MethodPost, listingPath(key)+"/buy", map[string]string{"value": value}, &resp, true)
	return resp, err
}

// WithdrawHoldings pays out the client's accumulated sale proceeds.
func (c *Client) WithdrawHoldings(ctx context.Context) (api.TxResponse, error) {
	var resp api.TxResponse
	err := c.do(ctx, resty.MethodPost, "/holdings/withdraw", nil, &resp, true)
	return resp, err
}

// GetListing reads a listing.
func (c *Client) GetListing(ctx context.Context, key marketplace.ListingKey) (api.ListingResponse, error) {
	var resp api.ListingResponse
	err := c.do(ctx, resty.MethodGet, listingPath(key), nil, &resp, false)
	return resp, err
}

// GetHolding reads the withdrawable balance of an account, given as an
// address or a named account.
func (c *Client) GetHolding(ctx context.Context, account string) (api.Amount, error) {
	var resp struct {
		Holding api.Amount `json:"holding"`
	}
	err := c.do(ctx, resty.MethodGet, "/holdings/"+account, nil, &resp, false)
	return resp.Holding, err
}

func listingPath(key marketplace.ListingKey) string {
	return fmt.Sprintf("/listings/%s/%d", key.NFT, key.TokenID)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, authed bool) error {
	apiErr := &APIError{}
	req := c.http.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if authed {
		if c.token == "" {
			return ErrNotLoggedIn
		}
		req.SetAuthToken(c.token)
	}
	if body != nil {
		req.SetBody(body)
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.IsError() {
		if apiErr.Message == "" {
			apiErr.Message = res.String()
		}
		apiErr.Status = res.StatusCode()
		c.logger.Debug("request rejected", zap.String("path", path), zap.Error(apiErr))
		return apiErr
	}
	return nil
}
