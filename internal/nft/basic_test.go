package nft

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nft_marketplace/internal/chain"
)

var (
	deployer    = chain.AddressFromName("deployer")
	user        = chain.AddressFromName("user")
	marketplace = chain.AddressFromName("marketplace")
)

func newCollection(t *testing.T) *BasicNFT {
	t.Helper()
	return NewBasicNFT(chain.ContractAddress(deployer, 1), zaptest.NewLogger(t))
}

func TestMint_SequentialIDs(t *testing.T) {
	b := newCollection(t)
	ctx := context.Background()

	first, err := b.Mint(ctx, deployer)
	require.NoError(t, err)
	second, err := b.Mint(ctx, user)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), first)
	assert.Equal(t, uint64(1), second)
	assert.Equal(t, uint64(2), b.TokenCounter())

	owner, err := b.OwnerOf(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, user, owner)

	uri, err := b.TokenURI(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, TokenURI, uri)

	_, err = b.Mint(ctx, chain.ZeroAddress)
	assert.ErrorIs(t, err, ErrZeroRecipient)
}

func TestOwnerOf_Nonexistent(t *testing.T) {
	b := newCollection(t)
	_, err := b.OwnerOf(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNonexistentToken)
	_, err = b.GetApproved(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNonexistentToken)
}

func TestApprove(t *testing.T) {
	b := newCollection(t)
	ctx := context.Background()
	id, _ := b.Mint(ctx, deployer)

	assert.ErrorIs(t, b.Approve(ctx, user, marketplace, id), ErrNotAuthorized)
	assert.ErrorIs(t, b.Approve(ctx, deployer, deployer, id), ErrSelfApproval)

	require.NoError(t, b.Approve(ctx, deployer, marketplace, id))
	approved, err := b.GetApproved(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, marketplace, approved)

	require.NoError(t, b.Approve(ctx, deployer, chain.ZeroAddress, id))
	approved, _ = b.GetApproved(ctx, id)
	assert.True(t, approved.IsZero())
}

func TestApprove_ByOperator(t *testing.T) {
	b := newCollection(t)
	ctx := context.Background()
	id, _ := b.Mint(ctx, deployer)

	require.NoError(t, b.SetApprovalForAll(ctx, deployer, user, true))
	assert.True(t, b.IsApprovedForAll(deployer, user))
	require.NoError(t, b.Approve(ctx, user, marketplace, id))

	require.NoError(t, b.SetApprovalForAll(ctx, deployer, user, false))
	assert.False(t, b.IsApprovedForAll(deployer, user))
	assert.ErrorIs(t, b.SetApprovalForAll(ctx, deployer, deployer, true), ErrSelfApproval)
}

func TestTransferFrom(t *testing.T) {
	b := newCollection(t)
	ctx := context.Background()
	id, _ := b.Mint(ctx, deployer)
	require.NoError(t, b.Approve(ctx, deployer, marketplace, id))

	assert.ErrorIs(t, b.TransferFrom(ctx, user, deployer, user, id), ErrNotAuthorized)
	assert.ErrorIs(t, b.TransferFrom(ctx, marketplace, user, marketplace, id), ErrWrongOwner)
	assert.ErrorIs(t, b.TransferFrom(ctx, marketplace, deployer, chain.ZeroAddress, id), ErrZeroRecipient)

	require.NoError(t, b.TransferFrom(ctx, marketplace, deployer, user, id))
	owner, _ := b.OwnerOf(ctx, id)
	assert.Equal(t, user, owner)

	approved, _ := b.GetApproved(ctx, id)
	assert.True(t, approved.IsZero(), "transfer must clear the approval")
}

func TestMutationsRevertWithJournal(t *testing.T) {
	b := newCollection(t)
	id, _ := b.Mint(context.Background(), deployer)
	require.NoError(t, b.Approve(context.Background(), deployer, marketplace, id))

	err := chain.Atomic(context.Background(), func(ctx context.Context) error {
		require.NoError(t, b.TransferFrom(ctx, marketplace, deployer, user, id))
		_, err := b.Mint(ctx, user)
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	owner, _ := b.OwnerOf(context.Background(), id)
	assert.Equal(t, deployer, owner)
	approved, _ := b.GetApproved(context.Background(), id)
	assert.Equal(t, marketplace, approved)
	assert.Equal(t, uint64(1), b.TokenCounter())
}
