package marketplace

import (
	"fmt"
	"math/big"

	"nft_marketplace/internal/chain"
)

// ListingKey identifies one token of one NFT collection.
type ListingKey struct {
	NFT     chain.Address `json:"nft"`
	TokenID uint64        `json:"token_id"`
}

func (k ListingKey) String() string {
	return fmt.Sprintf("%s/%d", k.NFT, k.TokenID)
}

// Listing is an active offer to sell one token at a fixed price in wei.
// A Listing exists only while the sale is active.
type Listing struct {
	Seller chain.Address `json:"seller"`
	Price  *big.Int      `json:"price"`
}

func (l Listing) clone() Listing {
	c := Listing{Seller: l.Seller}
	if l.Price != nil {
		c.Price = new(big.Int).Set(l.Price)
	}
	return c
}
