package marketplace

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft_marketplace/internal/chain"
)

func TestLocalStorage(t *testing.T) {
	s := NewLocalStorage()
	ctx := context.Background()
	key := ListingKey{NFT: nftAddr, TokenID: 3}

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	p := big.NewInt(10)
	require.NoError(t, s.Put(ctx, key, Listing{Seller: deployer, Price: p}))
	p.SetInt64(99) // caller mutations must not leak into the store

	listing, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), listing.Price.Int64())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Remove(ctx, key))
	require.NoError(t, s.Remove(ctx, key), "removing an absent key is a no-op")
	assert.Equal(t, 0, s.Len())
}

func TestLocalStorage_StoresListingWithoutPrice(t *testing.T) {
	s := NewLocalStorage()
	ctx := context.Background()
	key := ListingKey{NFT: nftAddr, TokenID: 4}

	require.NotPanics(t, func() {
		require.NoError(t, s.Put(ctx, key, Listing{Seller: deployer}))
	})
	listing, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, deployer, listing.Seller)
	assert.Nil(t, listing.Price)
}

func TestLocalStorage_RevertsInsideAtomic(t *testing.T) {
	s := NewLocalStorage()
	key := ListingKey{NFT: nftAddr, TokenID: 1}
	other := ListingKey{NFT: nftAddr, TokenID: 2}
	require.NoError(t, s.Put(context.Background(), key, Listing{Seller: deployer, Price: big.NewInt(5)}))

	err := chain.Atomic(context.Background(), func(ctx context.Context) error {
		require.NoError(t, s.Put(ctx, key, Listing{Seller: deployer, Price: big.NewInt(7)}))
		require.NoError(t, s.Remove(ctx, key))
		require.NoError(t, s.Put(ctx, other, Listing{Seller: user, Price: big.NewInt(1)}))
		return errors.New("abort")
	})
	require.Error(t, err)

	listing, ok, _ := s.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, int64(5), listing.Price.Int64())
	_, ok, _ = s.Get(context.Background(), other)
	assert.False(t, ok)
}

func TestLocalLedger(t *testing.T) {
	l := NewLocalLedger()
	ctx := context.Background()

	assert.ErrorIs(t, l.Credit(ctx, deployer, big.NewInt(0)), ErrNonPositiveCredit)
	assert.ErrorIs(t, l.Credit(ctx, deployer, nil), ErrNonPositiveCredit)

	require.NoError(t, l.Credit(ctx, deployer, big.NewInt(3)))
	require.NoError(t, l.Credit(ctx, deployer, big.NewInt(4)))
	bal, _ := l.Balance(ctx, deployer)
	assert.Equal(t, int64(7), bal.Int64())

	taken, err := l.TakeAll(ctx, deployer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), taken.Int64())

	taken, _ = l.TakeAll(ctx, deployer)
	assert.Zero(t, taken.Sign())
	taken, _ = l.TakeAll(ctx, user)
	assert.Zero(t, taken.Sign())
}

func TestLocalLedger_TakeAllIsExclusive(t *testing.T) {
	l := NewLocalLedger()
	ctx := context.Background()
	require.NoError(t, l.Credit(ctx, deployer, big.NewInt(1000)))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = new(big.Int)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			taken, err := l.TakeAll(ctx, deployer)
			assert.NoError(t, err)
			mu.Lock()
			total.Add(total, taken)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), total.Int64(), "the balance is paid out exactly once")
}

func TestLocalLedger_RevertsInsideAtomic(t *testing.T) {
	l := NewLocalLedger()
	require.NoError(t, l.Credit(context.Background(), deployer, big.NewInt(9)))

	err := chain.Atomic(context.Background(), func(ctx context.Context) error {
		taken, err := l.TakeAll(ctx, deployer)
		require.NoError(t, err)
		assert.Equal(t, int64(9), taken.Int64())
		require.NoError(t, l.Credit(ctx, user, big.NewInt(2)))
		return errors.New("abort")
	})
	require.Error(t, err)

	bal, _ := l.Balance(context.Background(), deployer)
	assert.Equal(t, int64(9), bal.Int64())
	bal, _ = l.Balance(context.Background(), user)
	assert.Zero(t, bal.Sign())
}
