package marketplace

import (
	"context"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
)

// EventKind names a marketplace event.
type EventKind string

const (
	ItemListed  EventKind = "ItemListed"
	ItemRemoved EventKind = "ItemRemoved"
	ItemBought  EventKind = "ItemBought"
)

// Event is emitted by successful marketplace operations. ItemListed and
// ItemRemoved carry the seller; ItemBought carries the buyer and the seller it
// paid. Price is empty for ItemRemoved.
type Event struct {
	Kind    EventKind     `json:"kind"`
	TxID    string        `json:"tx_id,omitempty"`
	Seller  chain.Address `json:"seller"`
	Buyer   chain.Address `json:"buyer"`
	NFT     chain.Address `json:"nft"`
	TokenID uint64        `json:"token_id"`
	Price   *big.Int      `json:"price,omitempty"`
}

// Key returns the listing key the event refers to.
func (e Event) Key() ListingKey {
	return ListingKey{NFT: e.NFT, TokenID: e.TokenID}
}

// EventSink receives events published by the Service.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// EventBus fans events out to subscribers. Events published inside a
// transaction are delivered only once the transaction commits.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]func(Event)
	nextID int
	logger *zap.Logger
}

// NewEventBus returns a bus without subscribers.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &EventBus{
		subs:   map[int]func(Event){},
		logger: logger,
	}
}

// Subscribe registers fn for every delivered event and returns a function that
// removes it. fn runs on the publishing goroutine and must not block.
func (b *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish stamps e with the current transaction id and delivers it on commit.
func (b *EventBus) Publish(ctx context.Context, e Event) {
	e.TxID = chain.TxIDFrom(ctx)
	chain.OnCommit(ctx, func() { b.deliver(e) })
}

func (b *EventBus) deliver(e Event) {
	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	b.logger.Debug("event delivered",
		zap.String("kind", string(e.Kind)),
		zap.Stringer("key", e.Key()),
		zap.Int("subscribers", len(subs)),
	)
	for _, fn := range subs {
		fn(e)
	}
}
