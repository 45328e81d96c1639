package marketplace

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"nft_marketplace/internal/chain"
)

// ErrNonPositiveCredit is returned when crediting zero or a negative amount.
var ErrNonPositiveCredit = errors.New("credit amount must be greater than zero")

// Ledger holds the withdrawable proceeds of each account (pull payments).
type Ledger interface {
	Credit(ctx context.Context, account chain.Address, amount *big.Int) error
	// TakeAll zeroes the account's balance and returns the previous value as one
	// indivisible step.
	TakeAll(ctx context.Context, account chain.Address) (*big.Int, error)
	Balance(ctx context.Context, account chain.Address) (*big.Int, error)
}

// LocalLedger is an in-memory Ledger. Entries are created on first credit and
// are zeroed, never deleted, on withdrawal.
type LocalLedger struct {
	mu sync.Mutex
	m  map[chain.Address]*big.Int
}

// NewLocalLedger returns an empty ledger.
func NewLocalLedger() *LocalLedger {
	return &LocalLedger{
		m: map[chain.Address]*big.Int{},
	}
}

func (l *LocalLedger) Credit(ctx context.Context, account chain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveCredit
	}
	amount = new(big.Int).Set(amount)

	l.mu.Lock()
	l.m[account] = new(big.Int).Add(l.balanceLocked(account), amount)
	l.mu.Unlock()

	chain.RecordUndo(ctx, func() { l.add(account, new(big.Int).Neg(amount)) })
	return nil
}

func (l *LocalLedger) TakeAll(ctx context.Context, account chain.Address) (*big.Int, error) {
	l.mu.Lock()
	prev, ok := l.m[account]
	if !ok || prev.Sign() == 0 {
		l.mu.Unlock()
		return new(big.Int), nil
	}
	l.m[account] = new(big.Int)
	l.mu.Unlock()

	chain.RecordUndo(ctx, func() { l.add(account, prev) })
	return new(big.Int).Set(prev), nil
}

func (l *LocalLedger) Balance(_ context.Context, account chain.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account)), nil
}

func (l *LocalLedger) add(account chain.Address, delta *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[account] = new(big.Int).Add(l.balanceLocked(account), delta)
}

func (l *LocalLedger) balanceLocked(account chain.Address) *big.Int {
	if bal, ok := l.m[account]; ok {
		return bal
	}
	return new(big.Int)
}
