package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseAddress(t *testing.T) {
	addr := AddressFromName("deployer")

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	_, err = ParseAddress("deployer")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ParseAddress("0x1234")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	assert.NotEqual(t, AddressFromName("deployer"), AddressFromName("user"))
	assert.NotEqual(t, ContractAddress(addr, 0), ContractAddress(addr, 1))
	assert.True(t, ZeroAddress.IsZero())
}

func TestAtomic_RevertsInReverseOrder(t *testing.T) {
	var trail []int
	errBoom := errors.New("boom")

	err := Atomic(context.Background(), func(ctx context.Context) error {
		RecordUndo(ctx, func() { trail = append(trail, 1) })
		RecordUndo(ctx, func() { trail = append(trail, 2) })
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []int{2, 1}, trail)
}

func TestAtomic_NestedScopeFoldsIntoParent(t *testing.T) {
	var undone, committed bool

	err := Atomic(context.Background(), func(ctx context.Context) error {
		require.NoError(t, Atomic(ctx, func(ctx context.Context) error {
			RecordUndo(ctx, func() { undone = true })
			OnCommit(ctx, func() { committed = true })
			return nil
		}))
		assert.False(t, committed, "inner scope must not fire commit hooks")
		return errors.New("outer failure")
	})

	require.Error(t, err)
	assert.True(t, undone)
	assert.False(t, committed)
}

func TestAtomic_CommitHooksRunOnSuccess(t *testing.T) {
	var fired int
	err := Atomic(context.Background(), func(ctx context.Context) error {
		OnCommit(ctx, func() { fired++ })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// outside a scope hooks fire immediately
	OnCommit(context.Background(), func() { fired++ })
	assert.Equal(t, 2, fired)
}

func TestAtomic_RevertsOnPanic(t *testing.T) {
	var undone bool
	assert.Panics(t, func() {
		_ = Atomic(context.Background(), func(ctx context.Context) error {
			RecordUndo(ctx, func() { undone = true })
			panic("contract bug")
		})
	})
	assert.True(t, undone)
}

func TestNodeExecute_MovesValueAndChargesFee(t *testing.T) {
	node := NewNode(31337, big.NewInt(7), zaptest.NewLogger(t))
	alice := node.AddAccount("alice", big.NewInt(1000))
	contract := node.Deploy(alice, func(self Address) any { return struct{}{} })

	receipt, err := node.Execute(context.Background(), Tx{From: alice, To: contract, Value: big.NewInt(100)},
		func(ctx context.Context) error {
			assert.NotEmpty(t, TxIDFrom(ctx))
			return nil
		})

	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxID)
	assert.Equal(t, int64(7), receipt.Fee.Int64())
	assert.Equal(t, int64(893), node.BalanceOf(alice).Int64())
	assert.Equal(t, int64(100), node.BalanceOf(contract).Int64())
}

func TestNodeExecute_RevertKeepsFeeOnly(t *testing.T) {
	node := NewNode(31337, big.NewInt(7), zaptest.NewLogger(t))
	alice := node.AddAccount("alice", big.NewInt(1000))
	bob := node.AddAccount("bob", nil)
	contract := node.Deploy(alice, func(self Address) any { return nil })

	_, err := node.Execute(context.Background(), Tx{From: alice, To: contract, Value: big.NewInt(100)},
		func(ctx context.Context) error {
			require.NoError(t, node.Send(ctx, contract, bob, big.NewInt(40)))
			return errors.New("reverted")
		})

	require.Error(t, err)
	assert.Equal(t, int64(993), node.BalanceOf(alice).Int64())
	assert.Equal(t, int64(0), node.BalanceOf(contract).Int64())
	assert.Equal(t, int64(0), node.BalanceOf(bob).Int64())
}

func TestNodeExecute_InsufficientFunds(t *testing.T) {
	node := NewNode(31337, nil, zaptest.NewLogger(t))
	alice := node.AddAccount("alice", big.NewInt(10))

	_, err := node.Execute(context.Background(), Tx{From: alice, To: ZeroAddress, Value: big.NewInt(11)},
		func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(10), node.BalanceOf(alice).Int64())
}

func TestNodeSend_ReceiveHookCanReject(t *testing.T) {
	node := NewNode(31337, nil, zaptest.NewLogger(t))
	alice := node.AddAccount("alice", big.NewInt(50))
	bob := node.AddAccount("bob", nil)
	errNoThanks := errors.New("no thanks")
	node.SetReceiveHook(bob, func(ctx context.Context, from Address, amount *big.Int) error {
		assert.Equal(t, alice, from)
		return errNoThanks
	})

	_, err := node.Execute(context.Background(), Tx{From: alice}, func(ctx context.Context) error {
		return node.Send(ctx, alice, bob, big.NewInt(20))
	})

	assert.ErrorIs(t, err, errNoThanks)
	assert.Equal(t, int64(50), node.BalanceOf(alice).Int64())
	assert.Equal(t, int64(0), node.BalanceOf(bob).Int64())

	node.SetReceiveHook(bob, nil)
	_, err = node.Execute(context.Background(), Tx{From: alice}, func(ctx context.Context) error {
		return node.Send(ctx, alice, bob, big.NewInt(20))
	})
	require.NoError(t, err)
	assert.Equal(t, int64(20), node.BalanceOf(bob).Int64())
}

func TestNodeView_InsideTransactionRunsInline(t *testing.T) {
	node := NewNode(31337, nil, zaptest.NewLogger(t))
	alice := node.AddAccount("alice", big.NewInt(50))

	var seen int64
	done := make(chan error, 1)
	go func() {
		_, err := node.Execute(context.Background(), Tx{From: alice}, func(ctx context.Context) error {
			return node.View(ctx, func() error {
				seen = node.BalanceOf(alice).Int64()
				return nil
			})
		})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("view inside a transaction blocked")
	}
	assert.Equal(t, int64(50), seen)

	require.NoError(t, node.View(context.Background(), func() error { return nil }))
}

func TestNodeAccounts(t *testing.T) {
	node := NewNode(5, nil, zaptest.NewLogger(t))
	node.AddAccount("user", nil)
	deployer := node.AddAccount("deployer", big.NewInt(1))

	addr, ok := node.Account("deployer")
	assert.True(t, ok)
	assert.Equal(t, deployer, addr)
	_, ok = node.Account("nobody")
	assert.False(t, ok)
	assert.Equal(t, []string{"deployer", "user"}, node.AccountNames())
	assert.Equal(t, uint64(5), node.ChainID())
}
