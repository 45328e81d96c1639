package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInsufficientFunds is returned when an account cannot cover a transfer or fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNegativeAmount is returned when a transfer amount is below zero.
var ErrNegativeAmount = errors.New("negative amount")

// ReceiveHook is invoked when an account receives native value through Send.
// It runs inside the sender's transaction and may fail it or call back into contracts.
type ReceiveHook func(ctx context.Context, from Address, amount *big.Int) error

// Tx describes a top-level transaction: From calls the contract at To, attaching Value.
type Tx struct {
	From  Address
	To    Address
	Value *big.Int
}

// Receipt summarises an executed transaction.
type Receipt struct {
	TxID  string   `json:"tx_id"`
	From  Address  `json:"from"`
	To    Address  `json:"to"`
	Value *big.Int `json:"value"`
	Fee   *big.Int `json:"fee"`
}

type txIDKey struct{}

// TxIDFrom returns the id of the transaction executing in ctx, or "".
func TxIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(txIDKey{}).(string)
	return id
}

// Node is an in-process development chain. It holds native balances, named
// accounts and deployed contracts, and executes transactions one at a time.
type Node struct {
	exec sync.RWMutex

	mu        sync.Mutex
	chainID   uint64
	fee       *big.Int
	balances  map[Address]*big.Int
	nonces    map[Address]uint64
	named     map[string]Address
	contracts map[Address]any
	hooks     map[Address]ReceiveHook

	logger *zap.Logger
}

// NewNode creates a node for chainID charging a flat fee per transaction.
func NewNode(chainID uint64, fee *big.Int, logger *zap.Logger) *Node {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if fee == nil {
		fee = new(big.Int)
	}
	return &Node{
		chainID:   chainID,
		fee:       new(big.Int).Set(fee),
		balances:  map[Address]*big.Int{},
		nonces:    map[Address]uint64{},
		named:     map[string]Address{},
		contracts: map[Address]any{},
		hooks:     map[Address]ReceiveHook{},
		logger:    logger,
	}
}

// ChainID returns the chain id the node was created for.
func (n *Node) ChainID() uint64 {
	return n.chainID
}

// Fee returns the flat fee charged per transaction.
func (n *Node) Fee() *big.Int {
	return new(big.Int).Set(n.fee)
}

// AddAccount registers a named account funded with balance and returns its address.
func (n *Node) AddAccount(name string, balance *big.Int) Address {
	addr := AddressFromName(name)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.named[name] = addr
	if balance != nil {
		n.balances[addr] = new(big.Int).Set(balance)
	}
	return addr
}

// Account resolves a named account.
func (n *Node) Account(name string) (Address, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr, ok := n.named[name]
	return addr, ok
}

// AccountNames returns the registered account names in sorted order.
func (n *Node) AccountNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.named))
	for name := range n.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BalanceOf returns the native balance of addr.
func (n *Node) BalanceOf(addr Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.balanceLocked(addr))
}

// Deploy creates a contract owned by deployer. build receives the new contract
// address so the contract can refer to itself.
func (n *Node) Deploy(deployer Address, build func(self Address) any) Address {
	n.mu.Lock()
	nonce := n.nonces[deployer]
	n.nonces[deployer] = nonce + 1
	addr := ContractAddress(deployer, nonce)
	n.mu.Unlock()

	contract := build(addr)

	n.mu.Lock()
	n.contracts[addr] = contract
	n.mu.Unlock()

	n.logger.Info("contract deployed",
		zap.Stringer("address", addr),
		zap.Stringer("deployer", deployer),
		zap.Uint64("nonce", nonce),
	)
	return addr
}

// Contract returns the contract deployed at addr.
func (n *Node) Contract(addr Address) (any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[addr]
	return c, ok
}

// SetReceiveHook installs the hook run when addr receives value. A nil hook removes it.
func (n *Node) SetReceiveHook(addr Address, hook ReceiveHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if hook == nil {
		delete(n.hooks, addr)
		return
	}
	n.hooks[addr] = hook
}

// Execute runs fn as a transaction from tx.From. Transactions never interleave.
// The fee is charged up front and kept even when fn fails; tx.Value moves from
// the sender to tx.To and is returned if fn fails, along with every other
// mutation recorded in the transaction's journal.
func (n *Node) Execute(ctx context.Context, tx Tx, fn func(ctx context.Context) error) (Receipt, error) {
	n.exec.Lock()
	defer n.exec.Unlock()

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	receipt := Receipt{
		TxID:  uuid.NewString(),
		From:  tx.From,
		To:    tx.To,
		Value: new(big.Int).Set(value),
		Fee:   new(big.Int).Set(n.fee),
	}
	logger := n.logger.With(zap.String("tx_id", receipt.TxID), zap.Stringer("from", tx.From))

	if value.Sign() < 0 {
		return receipt, ErrNegativeAmount
	}
	if err := n.chargeFee(tx.From); err != nil {
		logger.Warn("transaction rejected", zap.Error(err))
		return receipt, err
	}

	ctx = context.WithValue(ctx, txIDKey{}, receipt.TxID)
	err := Atomic(ctx, func(ctx context.Context) error {
		if value.Sign() > 0 {
			if err := n.move(ctx, tx.From, tx.To, value); err != nil {
				return err
			}
		}
		return fn(ctx)
	})
	if err != nil {
		logger.Info("transaction reverted", zap.Error(err))
		return receipt, err
	}

	logger.Debug("transaction committed", zap.Stringer("to", tx.To), zap.String("value", value.String()))
	return receipt, nil
}

// View runs a read-only call. It waits for any running transaction to finish,
// unless ctx belongs to that transaction, in which case fn runs inline.
func (n *Node) View(ctx context.Context, fn func() error) error {
	if TxIDFrom(ctx) != "" {
		return fn()
	}
	n.exec.RLock()
	defer n.exec.RUnlock()
	return fn()
}

// Send moves amount of native value from one account to another and runs the
// recipient's receive hook. It must be called from inside a transaction.
func (n *Node) Send(ctx context.Context, from, to Address, amount *big.Int) error {
	if err := n.move(ctx, from, to, amount); err != nil {
		return err
	}

	n.mu.Lock()
	hook := n.hooks[to]
	n.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("recipient %s rejected transfer: %w", to, err)
		}
	}
	return nil
}

func (n *Node) move(ctx context.Context, from, to Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	amount = new(big.Int).Set(amount)

	n.mu.Lock()
	bal := n.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, bal, amount)
	}
	n.balances[from] = new(big.Int).Sub(bal, amount)
	n.balances[to] = new(big.Int).Add(n.balanceLocked(to), amount)
	n.mu.Unlock()

	RecordUndo(ctx, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.balances[to] = new(big.Int).Sub(n.balanceLocked(to), amount)
		n.balances[from] = new(big.Int).Add(n.balanceLocked(from), amount)
	})
	return nil
}

func (n *Node) chargeFee(from Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	bal := n.balanceLocked(from)
	if bal.Cmp(n.fee) < 0 {
		return fmt.Errorf("%w for fee: %s holds %s, needs %s", ErrInsufficientFunds, from, bal, n.fee)
	}
	n.balances[from] = new(big.Int).Sub(bal, n.fee)
	return nil
}

func (n *Node) balanceLocked(addr Address) *big.Int {
	if bal, ok := n.balances[addr]; ok {
		return bal
	}
	return new(big.Int)
}
