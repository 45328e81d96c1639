package nft

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
)

// TokenURI is the metadata URI shared by every BasicNFT token.
const TokenURI = "ipfs://bafybeig37ioir76s7mg5oobetncojcm3c3hxasyd4rvid4jqhy4gkaheg4/?filename=0-PUG.json"

var (
	// ErrNonexistentToken is returned when a token id was never minted.
	ErrNonexistentToken = errors.New("nonexistent token")
	// ErrNotAuthorized is returned when the caller may not approve or move a token.
	ErrNotAuthorized = errors.New("caller is not token owner or approved")
	// ErrWrongOwner is returned when transferFrom names a from address that does not own the token.
	ErrWrongOwner = errors.New("transfer from incorrect owner")
	// ErrZeroRecipient is returned when transferring or minting to the null address.
	ErrZeroRecipient = errors.New("transfer to the zero address")
	// ErrSelfApproval is returned when an owner approves itself.
	ErrSelfApproval = errors.New("approval to current owner")
)

type operatorKey struct {
	owner    chain.Address
	operator chain.Address
}

// BasicNFT is a minimal ERC-721 style collection: anyone may mint, owners approve
// a single address per token or operators for all their tokens.
type BasicNFT struct {
	mu        sync.RWMutex
	address   chain.Address
	counter   uint64
	owners    map[uint64]chain.Address
	approvals map[uint64]chain.Address
	operators map[operatorKey]bool

	logger *zap.Logger
}

// NewBasicNFT creates an empty collection deployed at address.
func NewBasicNFT(address chain.Address, logger *zap.Logger) *BasicNFT {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &BasicNFT{
		address:   address,
		owners:    map[uint64]chain.Address{},
		approvals: map[uint64]chain.Address{},
		operators: map[operatorKey]bool{},
		logger:    logger.With(zap.Stringer("collection", address)),
	}
}

// Address returns the collection's contract address.
func (b *BasicNFT) Address() chain.Address {
	return b.address
}

// Mint creates the next token for to and returns its id. Ids start at 0.
func (b *BasicNFT) Mint(ctx context.Context, to chain.Address) (uint64, error) {
	if to.IsZero() {
		return 0, ErrZeroRecipient
	}

	b.mu.Lock()
	id := b.counter
	b.owners[id] = to
	b.counter++
	b.mu.Unlock()

	chain.RecordUndo(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.owners, id)
		b.counter--
	})

	b.logger.Info("token minted", zap.Uint64("token_id", id), zap.Stringer("owner", to))
	return id, nil
}

// TokenCounter returns the number of tokens minted so far.
func (b *BasicNFT) TokenCounter() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counter
}

// TokenURI returns the metadata URI of an existing token.
func (b *BasicNFT) TokenURI(ctx context.Context, tokenID uint64) (string, error) {
	if _, err := b.OwnerOf(ctx, tokenID); err != nil {
		return "", err
	}
	return TokenURI, nil
}

// OwnerOf returns the current owner of tokenID.
func (b *BasicNFT) OwnerOf(_ context.Context, tokenID uint64) (chain.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	owner, ok := b.owners[tokenID]
	if !ok {
		return chain.ZeroAddress, fmt.Errorf("%w: %d", ErrNonexistentToken, tokenID)
	}
	return owner, nil
}

// GetApproved returns the address approved for tokenID, or the zero address.
func (b *BasicNFT) GetApproved(_ context.Context, tokenID uint64) (chain.Address, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.owners[tokenID]; !ok {
		return chain.ZeroAddress, fmt.Errorf("%w: %d", ErrNonexistentToken, tokenID)
	}
	return b.approvals[tokenID], nil
}

// IsApprovedForAll reports whether operator may manage all of owner's tokens.
func (b *BasicNFT) IsApprovedForAll(owner, operator chain.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.operators[operatorKey{owner, operator}]
}

// Approve lets to move tokenID. Passing the zero address revokes the approval.
// Only the owner or one of its operators may approve.
func (b *BasicNFT) Approve(ctx context.Context, caller, to chain.Address, tokenID uint64) error {
	b.mu.Lock()
	owner, ok := b.owners[tokenID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentToken, tokenID)
	}
	if to == owner {
		b.mu.Unlock()
		return ErrSelfApproval
	}
	if caller != owner && !b.operators[operatorKey{owner, caller}] {
		b.mu.Unlock()
		return ErrNotAuthorized
	}
	prev := b.approvals[tokenID]
	b.setApprovalLocked(tokenID, to)
	b.mu.Unlock()

	chain.RecordUndo(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.setApprovalLocked(tokenID, prev)
	})

	b.logger.Debug("approval set", zap.Uint64("token_id", tokenID), zap.Stringer("approved", to))
	return nil
}

// SetApprovalForAll grants or revokes operator rights over all of owner's tokens.
func (b *BasicNFT) SetApprovalForAll(ctx context.Context, owner, operator chain.Address, approved bool) error {
	if owner == operator {
		return ErrSelfApproval
	}
	key := operatorKey{owner, operator}

	b.mu.Lock()
	prev := b.operators[key]
	b.setOperatorLocked(key, approved)
	b.mu.Unlock()

	chain.RecordUndo(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.setOperatorLocked(key, prev)
	})
	return nil
}

// TransferFrom moves tokenID from from to to on behalf of operator. The operator
// must be the owner, the approved address, or an approved operator. The token's
// single approval is cleared.
func (b *BasicNFT) TransferFrom(ctx context.Context, operator, from, to chain.Address, tokenID uint64) error {
	if to.IsZero() {
		return ErrZeroRecipient
	}

	b.mu.Lock()
	owner, ok := b.owners[tokenID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentToken, tokenID)
	}
	if operator != owner && b.approvals[tokenID] != operator && !b.operators[operatorKey{owner, operator}] {
		b.mu.Unlock()
		return ErrNotAuthorized
	}
	if from != owner {
		b.mu.Unlock()
		return ErrWrongOwner
	}
	prevApproval := b.approvals[tokenID]
	b.owners[tokenID] = to
	delete(b.approvals, tokenID)
	b.mu.Unlock()

	chain.RecordUndo(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.owners[tokenID] = from
		b.setApprovalLocked(tokenID, prevApproval)
	})

	b.logger.Info("token transferred",
		zap.Uint64("token_id", tokenID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	return nil
}

func (b *BasicNFT) setApprovalLocked(tokenID uint64, to chain.Address) {
	if to.IsZero() {
		delete(b.approvals, tokenID)
		return
	}
	b.approvals[tokenID] = to
}

func (b *BasicNFT) setOperatorLocked(key operatorKey, approved bool) {
	if !approved {
		delete(b.operators, key)
		return
	}
	b.operators[key] = true
}
