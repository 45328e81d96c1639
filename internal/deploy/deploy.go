// Package deploy stands up a development chain with the marketplace and a
// BasicNFT collection, and exposes transaction bindings for both contracts.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/config"
	"nft_marketplace/internal/marketplace"
	"nft_marketplace/internal/nft"
	"nft_marketplace/internal/units"
)

// DeployerAccount is the named account that deploys both contracts.
const DeployerAccount = "deployer"

var (
	// ErrNoDeployer is returned when the configuration lacks the deployer account.
	ErrNoDeployer = errors.New("deployer account not configured")
	// ErrNotCollection is returned when an address does not hold an NFT collection.
	ErrNotCollection = errors.New("address is not an nft collection")
)

// Deployment is a running development chain with both contracts deployed.
type Deployment struct {
	Node               *chain.Node
	Events             *marketplace.EventBus
	Deployer           chain.Address
	MarketplaceAddress chain.Address
	NFTAddress         chain.Address

	market *marketplace.Service
	nft    *nft.BasicNFT
	logger *zap.Logger
}

// Deploy creates the chain described by cfg, funds the named accounts and
// deploys the marketplace followed by the BasicNFT collection.
func Deploy(cfg *config.Config, logger *zap.Logger) (*Deployment, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	fee, err := cfg.TxFee()
	if err != nil {
		return nil, err
	}

	node := chain.NewNode(cfg.ChainID, fee, logger.Named("chain"))
	for _, acct := range cfg.Accounts {
		balance, err := units.ParseEther(acct.Balance)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acct.Name, err)
		}
		node.AddAccount(acct.Name, balance)
	}
	deployer, ok := node.Account(DeployerAccount)
	if !ok {
		return nil, ErrNoDeployer
	}

	d := &Deployment{
		Node:     node,
		Events:   marketplace.NewEventBus(logger.Named("events")),
		Deployer: deployer,
		logger:   logger,
	}

	logger.Info("deploying NftMarketplace contract")
	d.MarketplaceAddress = node.Deploy(deployer, func(self chain.Address) any {
		d.market = marketplace.NewService(self,
			marketplace.RegistryResolverFunc(d.registry),
			marketplace.NewLocalStorage(),
			marketplace.NewLocalLedger(),
			node,
			d.Events,
			logger.Named("marketplace"),
		)
		return d.market
	})

	logger.Info("deploying BasicNFT contract")
	d.NFTAddress = node.Deploy(deployer, func(self chain.Address) any {
		d.nft = nft.NewBasicNFT(self, logger.Named("nft"))
		return d.nft
	})

	network, _ := cfg.Network()
	logger.Info("contracts deployed",
		zap.String("network", network.Name),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Stringer("marketplace", d.MarketplaceAddress),
		zap.Stringer("nft", d.NFTAddress),
	)
	return d, nil
}

// Marketplace returns the deployed marketplace contract.
func (d *Deployment) Marketplace() *marketplace.Service {
	return d.market
}

// Collection returns the NFT collection deployed at addr.
func (d *Deployment) Collection(addr chain.Address) (*nft.BasicNFT, error) {
	c, ok := d.Node.Contract(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, addr)
	}
	collection, ok := c.(*nft.BasicNFT)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, addr)
	}
	return collection, nil
}

func (d *Deployment) registry(addr chain.Address) (marketplace.AssetRegistry, error) {
	c, ok := d.Node.Contract(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, addr)
	}
	registry, ok := c.(marketplace.AssetRegistry)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCollection, addr)
	}
	return registry, nil
}

// ListItem sends a listItem transaction from caller.
func (d *Deployment) ListItem(ctx context.Context, caller chain.Address, key marketplace.ListingKey, price *big.Int) (chain.Receipt, error) {
	return d.Node.Execute(ctx, chain.Tx{From: caller, To: d.MarketplaceAddress}, func(ctx context.Context) error {
		return d.market.ListItem(ctx, caller, key, price)
	})
}

// CancelItem sends a cancelItem transaction from caller.
func (d *Deployment) CancelItem(ctx context.Context, caller chain.Address, key marketplace.ListingKey) (chain.Receipt, error) {
	return d.Node.Execute(ctx, chain.Tx{From: caller, To: d.MarketplaceAddress}, func(ctx context.Context) error {
		return d.market.CancelItem(ctx, caller, key)
	})
}

// UpdateItem sends an updateItem transaction from caller.
func (d *Deployment) UpdateItem(ctx context.Context, caller chain.Address, key marketplace.ListingKey, price *big.Int) (chain.Receipt, error) {
	return d.Node.Execute(ctx, chain.Tx{From: caller, To: d.MarketplaceAddress}, func(ctx context.Context) error {
		return d.market.UpdateItem(ctx, caller, key, price)
	})
}

// BuyItem sends a buyItem transaction from caller carrying value as payment.
func (d *Deployment) BuyItem(ctx context.Context, caller chain.Address, key marketplace.ListingKey, value *big.Int) (chain.Receipt, error) {
	return d.Node.Execute(ctx, chain.Tx{From: caller, To: d.MarketplaceAddress, Value: value}, func(ctx context.Context) error {
		return d.market.BuyItem(ctx, caller, key, value)
	})
}

// WithdrawHoldings sends a withdrawHoldings transaction from caller and
// returns the amount paid out.
func (d *Deployment) WithdrawHoldings(ctx context.Context, caller chain.Address) (chain.Receipt, *big.Int, error) {
	var amount *big.Int
	receipt, err := d.Node.Execute(ctx, chain.Tx{From: caller, To: d.MarketplaceAddress}, func(ctx context.Context) error {
		var err error
		amount, err = d.market.WithdrawHoldings(ctx, caller)
		return err
	})
	return receipt, amount, err
}

// GetListing reads the listing for key.
func (d *Deployment) GetListing(ctx context.Context, key marketplace.ListingKey) (listing marketplace.Listing, ok bool, err error) {
	err = d.Node.View(ctx, func() error {
		listing, ok, err = d.market.GetListing(ctx, key)
		return err
	})
	return listing, ok, err
}

// GetHolding reads the withdrawable balance of account.
func (d *Deployment) GetHolding(ctx context.Context, account chain.Address) (holding *big.Int, err error) {
	err = d.Node.View(ctx, func() error {
		holding, err = d.market.GetHolding(ctx, account)
		return err
	})
	return holding, err
}

// MintNft mints a token of the collection at nftAddr to caller.
func (d *Deployment) MintNft(ctx context.Context, caller, nftAddr chain.Address) (chain.Receipt, uint64, error) {
	collection, err := d.Collection(nftAddr)
	if err != nil {
		return chain.Receipt{}, 0, err
	}
	var tokenID uint64
	receipt, err := d.Node.Execute(ctx, chain.Tx{From: caller, To: nftAddr}, func(ctx context.Context) error {
		var err error
		tokenID, err = collection.Mint(ctx, caller)
		return err
	})
	return receipt, tokenID, err
}

// ApproveNft approves spender for one token on behalf of caller. Approving the
// zero address revokes the approval.
func (d *Deployment) ApproveNft(ctx context.Context, caller, spender chain.Address, key marketplace.ListingKey) (chain.Receipt, error) {
	collection, err := d.Collection(key.NFT)
	if err != nil {
		return chain.Receipt{}, err
	}
	return d.Node.Execute(ctx, chain.Tx{From: caller, To: key.NFT}, func(ctx context.Context) error {
		return collection.Approve(ctx, caller, spender, key.TokenID)
	})
}

// OwnerOf reads the owner of a token.
func (d *Deployment) OwnerOf(ctx context.Context, key marketplace.ListingKey) (owner chain.Address, err error) {
	registry, err := d.registry(key.NFT)
	if err != nil {
		return chain.ZeroAddress, err
	}
	err = d.Node.View(ctx, func() error {
		owner, err = registry.OwnerOf(ctx, key.TokenID)
		return err
	})
	return owner, err
}
