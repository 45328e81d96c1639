package indexer

import (
	"context"
	"math"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/marketplace"
)

var (
	seller = chain.AddressFromName("deployer")
	buyer  = chain.AddressFromName("user")
	nftA   = chain.ContractAddress(seller, 1)
	nftB   = chain.ContractAddress(seller, 2)
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	idx, err := Open("sqlite3", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestRecordAndActivity(t *testing.T) {
	idx := newTestIndexer(t)
	ctx := context.Background()
	key := marketplace.ListingKey{NFT: nftA, TokenID: 0}

	require.NoError(t, idx.Record(ctx, marketplace.Event{Kind: marketplace.ItemListed, TxID: "tx-1", Seller: seller, NFT: nftA, TokenID: 0, Price: big.NewInt(50)}))
	require.NoError(t, idx.Record(ctx, marketplace.Event{Kind: marketplace.ItemBought, TxID: "tx-2", Seller: seller, Buyer: buyer, NFT: nftA, TokenID: 0, Price: big.NewInt(50)}))
	require.NoError(t, idx.Record(ctx, marketplace.Event{Kind: marketplace.ItemRemoved, TxID: "tx-3", Seller: seller, NFT: nftB, TokenID: 0}))

	records, err := idx.Activity(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ItemBought", records[0].Kind)
	assert.Equal(t, buyer.String(), records[0].Buyer)
	assert.Equal(t, "50", records[0].Price)
	assert.Equal(t, "tx-1", records[1].TxID)

	recent, err := idx.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ItemRemoved", recent[0].Kind)
	assert.Equal(t, "", recent[0].Price)
}

func TestActivity_LargeTokenID(t *testing.T) {
	idx := newTestIndexer(t)
	ctx := context.Background()
	high := marketplace.ListingKey{NFT: nftA, TokenID: math.MaxUint64}
	low := marketplace.ListingKey{NFT: nftA, TokenID: 1}

	require.NoError(t, idx.Record(ctx, marketplace.Event{Kind: marketplace.ItemListed, TxID: "tx-1", Seller: seller, NFT: nftA, TokenID: high.TokenID, Price: big.NewInt(1)}))

	records, err := idx.Activity(ctx, high, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "18446744073709551615", records[0].TokenID)

	records, err = idx.Activity(ctx, low, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestActivity_Empty(t *testing.T) {
	idx := newTestIndexer(t)
	records, err := idx.Activity(context.Background(), marketplace.ListingKey{NFT: nftA, TokenID: 7}, 0)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFollow_IndexesCommittedEvents(t *testing.T) {
	idx := newTestIndexer(t)
	bus := marketplace.NewEventBus(zaptest.NewLogger(t))
	idx.Follow(bus)

	bus.Publish(context.Background(), marketplace.Event{Kind: marketplace.ItemListed, Seller: seller, NFT: nftA, TokenID: 1, Price: big.NewInt(5)})

	// events published by a reverted transaction are never delivered
	_ = chain.Atomic(context.Background(), func(ctx context.Context) error {
		bus.Publish(ctx, marketplace.Event{Kind: marketplace.ItemBought, Buyer: buyer, NFT: nftA, TokenID: 1, Price: big.NewInt(5)})
		return assert.AnError
	})

	assert.Eventually(t, func() bool {
		records, err := idx.Recent(context.Background(), 10)
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)

	records, err := idx.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "ItemListed", records[0].Kind)
}

func TestClose(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db")
	idx, err := Open("sqlite3", dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	idx.Follow(marketplace.NewEventBus(zaptest.NewLogger(t)))

	require.NoError(t, idx.Close())
	assert.ErrorIs(t, idx.Close(), ErrClosed)
}
