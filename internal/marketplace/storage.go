package marketplace

import (
	"context"
	"sync"

	"nft_marketplace/internal/chain"
)

// Storage is the listing store. It performs no validation; the Service owns
// every listing rule.
type Storage interface {
	Put(ctx context.Context, key ListingKey, listing Listing) error
	Get(ctx context.Context, key ListingKey) (Listing, bool, error)
	Remove(ctx context.Context, key ListingKey) error
}

// LocalStorage provides an in-memory listing store. Mutations made inside a
// chain.Atomic scope are undone when the scope fails.
type LocalStorage struct {
	mu sync.RWMutex
	m  map[ListingKey]Listing
}

// NewLocalStorage instantiates a new LocalStorage with an empty map.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m: map[ListingKey]Listing{},
	}
}

// Put inserts or overwrites the listing for key.
func (l *LocalStorage) Put(ctx context.Context, key ListingKey, listing Listing) error {
	l.mu.Lock()
	prev, existed := l.m[key]
	l.m[key] = listing.clone()
	l.mu.Unlock()

	chain.RecordUndo(ctx, func() { l.restore(key, prev, existed) })
	return nil
}

// Get returns the listing for key; ok is false when the token is not listed.
func (l *LocalStorage) Get(_ context.Context, key ListingKey) (Listing, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	listing, ok := l.m[key]
	if !ok {
		return Listing{}, false, nil
	}
	return listing.clone(), true, nil
}

// Remove deletes the listing for key. Removing an absent key is a no-op.
func (l *LocalStorage) Remove(ctx context.Context, key ListingKey) error {
	l.mu.Lock()
	prev, existed := l.m[key]
	delete(l.m, key)
	l.mu.Unlock()

	if existed {
		chain.RecordUndo(ctx, func() { l.restore(key, prev, true) })
	}
	return nil
}

// Len returns the number of active listings.
func (l *LocalStorage) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}

func (l *LocalStorage) restore(key ListingKey, prev Listing, existed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existed {
		l.m[key] = prev
		return
	}
	delete(l.m, key)
}
