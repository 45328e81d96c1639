package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
)

// AssetRegistry is the ownership authority of one NFT collection.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, tokenID uint64) (chain.Address, error)
	GetApproved(ctx context.Context, tokenID uint64) (chain.Address, error)
	TransferFrom(ctx context.Context, operator, from, to chain.Address, tokenID uint64) error
}

// RegistryResolver finds the AssetRegistry deployed at a collection address.
type RegistryResolver interface {
	Registry(nft chain.Address) (AssetRegistry, error)
}

// RegistryResolverFunc adapts a function to RegistryResolver.
type RegistryResolverFunc func(nft chain.Address) (AssetRegistry, error)

func (f RegistryResolverFunc) Registry(nft chain.Address) (AssetRegistry, error) {
	return f(nft)
}

// ValueTransfer is the native value-transfer channel used to pay out holdings.
type ValueTransfer interface {
	Send(ctx context.Context, from, to chain.Address, amount *big.Int) error
}

// Service is the marketplace core. Every operation is atomic: on failure all of
// its mutations are reverted and no event is published.
//
// Top-level calls must be serialised by the caller (chain.Node does this). No
// lock is held while control is handed to a registry or a payment recipient, so
// those may call back into the Service and observe the already-updated state.
type Service struct {
	self       chain.Address
	registries RegistryResolver
	storage    Storage
	ledger     Ledger
	transfer   ValueTransfer
	events     EventSink
	logger     *zap.Logger
}

// NewService creates a new Service deployed at self.
func NewService(self chain.Address, registries RegistryResolver, storage Storage, ledger Ledger,
	transfer ValueTransfer, events EventSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
		defer logger.Sync() // flushes buffer, if any
	}
	if events == nil {
		events = NewEventBus(logger)
	}

	return &Service{
		self:       self,
		registries: registries,
		storage:    storage,
		ledger:     ledger,
		transfer:   transfer,
		events:     events,
		logger:     logger.With(zap.Stringer("marketplace", self)),
	}
}

// Address returns the marketplace's own address, the one NFT owners approve.
func (s *Service) Address() chain.Address {
	return s.self
}

// ListItem lists key for sale at price on behalf of caller, who must own the
// token and have approved the marketplace to move it.
func (s *Service) ListItem(ctx context.Context, caller chain.Address, key ListingKey, price *big.Int) error {
	err := chain.Atomic(ctx, func(ctx context.Context) error {
		if price == nil || price.Sign() <= 0 {
			return ErrInvalidPrice
		}
		if _, listed, err := s.storage.Get(ctx, key); err != nil {
			return fmt.Errorf("read listing %s: %w", key, err)
		} else if listed {
			return fmt.Errorf("%w: %s", ErrNftAlreadyListed, key)
		}

		registry, err := s.registries.Registry(key.NFT)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, registry, caller, key); err != nil {
			return err
		}
		approved, err := registry.GetApproved(ctx, key.TokenID)
		if err != nil {
			return fmt.Errorf("approval of %s: %w", key, err)
		}
		if approved != s.self {
			return fmt.Errorf("%w: %s", ErrMarketplaceNotApproved, key)
		}

		listing := Listing{Seller: caller, Price: price}
		if err := s.storage.Put(ctx, key, listing); err != nil {
			return fmt.Errorf("store listing %s: %w", key, err)
		}

		s.events.Publish(ctx, Event{Kind: ItemListed, Seller: caller, NFT: key.NFT, TokenID: key.TokenID, Price: new(big.Int).Set(price)})
		return nil
	})
	if err != nil {
		s.logger.Warn("list item rejected", zap.Stringer("key", key), zap.Stringer("caller", caller), zap.Error(err))
		return err
	}

	s.logger.Info("item listed", zap.Stringer("key", key), zap.Stringer("seller", caller), zap.String("price", price.String()))
	return nil
}

// CancelItem removes the listing for key. Ownership is checked against the
// registry, not the stored seller, so a new owner may cancel a stale listing.
func (s *Service) CancelItem(ctx context.Context, caller chain.Address, key ListingKey) error {
	err := chain.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.requireListing(ctx, key); err != nil {
			return err
		}
		registry, err := s.registries.Registry(key.NFT)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, registry, caller, key); err != nil {
			return err
		}
		if err := s.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove listing %s: %w", key, err)
		}

		s.events.Publish(ctx, Event{Kind: ItemRemoved, Seller: caller, NFT: key.NFT, TokenID: key.TokenID})
		return nil
	})
	if err != nil {
		s.logger.Warn("cancel item rejected", zap.Stringer("key", key), zap.Stringer("caller", caller), zap.Error(err))
		return err
	}

	s.logger.Info("item removed", zap.Stringer("key", key), zap.Stringer("seller", caller))
	return nil
}

// UpdateItem changes the price of an active listing. It is announced as a
// fresh ItemListed event.
func (s *Service) UpdateItem(ctx context.Context, caller chain.Address, key ListingKey, newPrice *big.Int) error {
	err := chain.Atomic(ctx, func(ctx context.Context) error {
		listing, err := s.requireListing(ctx, key)
		if err != nil {
			return err
		}
		registry, err := s.registries.Registry(key.NFT)
		if err != nil {
			return err
		}
		if err := s.requireOwner(ctx, registry, caller, key); err != nil {
			return err
		}
		if newPrice == nil || newPrice.Sign() <= 0 {
			return ErrInvalidPrice
		}

		listing.Price = newPrice
		if err := s.storage.Put(ctx, key, listing); err != nil {
			return fmt.Errorf("store listing %s: %w", key, err)
		}

		s.events.Publish(ctx, Event{Kind: ItemListed, Seller: caller, NFT: key.NFT, TokenID: key.TokenID, Price: new(big.Int).Set(newPrice)})
		return nil
	})
	if err != nil {
		s.logger.Warn("update item rejected", zap.Stringer("key", key), zap.Stringer("caller", caller), zap.Error(err))
		return err
	}

	s.logger.Info("item updated", zap.Stringer("key", key), zap.Stringer("seller", caller), zap.String("price", newPrice.String()))
	return nil
}

// BuyItem purchases key for caller. payment must equal the listing price
// exactly. The listing is removed before the registry is asked to move the
// token, and the seller is credited last.
func (s *Service) BuyItem(ctx context.Context, caller chain.Address, key ListingKey, payment *big.Int) error {
	var listing Listing
	err := chain.Atomic(ctx, func(ctx context.Context) error {
		var err error
		if listing, err = s.requireListing(ctx, key); err != nil {
			return err
		}
		if payment == nil || payment.Cmp(listing.Price) != 0 {
			return fmt.Errorf("%w: listed at %s", ErrInsufficientTransfer, listing.Price)
		}
		registry, err := s.registries.Registry(key.NFT)
		if err != nil {
			return err
		}

		if err := s.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("remove listing %s: %w", key, err)
		}
		if err := registry.TransferFrom(ctx, s.self, listing.Seller, caller, key.TokenID); err != nil {
			return fmt.Errorf("transfer %s to buyer: %w", key, err)
		}
		if err := s.ledger.Credit(ctx, listing.Seller, payment); err != nil {
			return fmt.Errorf("credit seller %s: %w", listing.Seller, err)
		}

		s.events.Publish(ctx, Event{
			Kind:    ItemBought,
			Seller:  listing.Seller,
			Buyer:   caller,
			NFT:     key.NFT,
			TokenID: key.TokenID,
			Price:   new(big.Int).Set(payment),
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("buy item rejected", zap.Stringer("key", key), zap.Stringer("buyer", caller), zap.Error(err))
		return err
	}

	s.logger.Info("item bought",
		zap.Stringer("key", key),
		zap.Stringer("buyer", caller),
		zap.Stringer("seller", listing.Seller),
		zap.String("price", payment.String()),
	)
	return nil
}

// WithdrawHoldings pays caller its whole balance and returns the amount sent.
// If the payment fails the balance is left untouched and the call may be retried.
func (s *Service) WithdrawHoldings(ctx context.Context, caller chain.Address) (*big.Int, error) {
	var amount *big.Int
	err := chain.Atomic(ctx, func(ctx context.Context) error {
		var err error
		if amount, err = s.ledger.TakeAll(ctx, caller); err != nil {
			return fmt.Errorf("take holdings of %s: %w", caller, err)
		}
		if amount.Sign() <= 0 {
			return ErrNoHoldings
		}
		if err := s.transfer.Send(ctx, s.self, caller, amount); err != nil {
			return fmt.Errorf("send holdings to %s: %w", caller, err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("withdraw rejected", zap.Stringer("caller", caller), zap.Error(err))
		return nil, err
	}

	s.logger.Info("holdings withdrawn", zap.Stringer("account", caller), zap.String("amount", amount.String()))
	return amount, nil
}

// GetListing returns the active listing for key; ok is false when not listed.
func (s *Service) GetListing(ctx context.Context, key ListingKey) (Listing, bool, error) {
	return s.storage.Get(ctx, key)
}

// GetHolding returns the withdrawable balance of account.
func (s *Service) GetHolding(ctx context.Context, account chain.Address) (*big.Int, error) {
	return s.ledger.Balance(ctx, account)
}

func (s *Service) requireListing(ctx context.Context, key ListingKey) (Listing, error) {
	listing, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return Listing{}, fmt.Errorf("read listing %s: %w", key, err)
	}
	if !ok {
		return Listing{}, fmt.Errorf("%w: %s", ErrNftNotListed, key)
	}
	return listing, nil
}

func (s *Service) requireOwner(ctx context.Context, registry AssetRegistry, caller chain.Address, key ListingKey) error {
	owner, err := registry.OwnerOf(ctx, key.TokenID)
	if err != nil {
		return fmt.Errorf("owner of %s: %w", key, err)
	}
	if owner != caller {
		return fmt.Errorf("%w: %s", ErrNotOwner, key)
	}
	return nil
}
