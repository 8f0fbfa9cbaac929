package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/tokenlottery/config"
)

var (
	tokenAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	custody   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice     = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	bob       = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newFunded(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	require.NoError(t, l.Register(tokenAddr, "BURN"))
	require.NoError(t, l.Mint(tokenAddr, alice, amt(100)))
	require.NoError(t, l.Approve(tokenAddr, alice, custody, amt(50)))
	return l
}

func balance(t *testing.T, l *Ledger, owner common.Address) string {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), tokenAddr, owner)
	require.NoError(t, err)
	return b.String()
}

func TestLedger_UnknownToken(t *testing.T) {
	l := NewLedger()
	_, err := l.Symbol(context.Background(), tokenAddr)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = l.Begin(context.Background(), tokenAddr, custody)
	assert.ErrorIs(t, err, ErrUnknownToken)

	require.NoError(t, l.Register(tokenAddr, "BURN"))
	assert.ErrorIs(t, l.Register(tokenAddr, "BURN"), ErrTokenExists)
}

func TestTx_CommitAppliesAll(t *testing.T) {
	l := newFunded(t)
	ctx := context.Background()

	tx, err := l.Begin(ctx, tokenAddr, custody)
	require.NoError(t, err)
	require.NoError(t, tx.TransferFrom(alice, custody, amt(10)))
	require.NoError(t, tx.Burn(amt(4)))
	require.NoError(t, tx.Transfer(bob, amt(2)))

	// 提交前对外不可见
	assert.Equal(t, "100", balance(t, l, alice))
	assert.Equal(t, "0", balance(t, l, custody))

	require.NoError(t, tx.Commit())
	assert.Equal(t, "90", balance(t, l, alice))
	assert.Equal(t, "4", balance(t, l, custody))
	assert.Equal(t, "2", balance(t, l, bob))

	allowance, err := l.Allowance(ctx, tokenAddr, alice, custody)
	require.NoError(t, err)
	assert.Equal(t, "40", allowance.String())

	supply, err := l.TotalSupply(tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "96", supply.String())
	burned, err := l.Burned(tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "4", burned.String())

	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback())
}

func TestLedger_EnsureBalance(t *testing.T) {
	l := newFunded(t)
	ctx := context.Background()

	minted, err := l.EnsureBalance(ctx, tokenAddr, custody, amt(30))
	require.NoError(t, err)
	assert.Equal(t, "30", minted.String())
	assert.Equal(t, "30", balance(t, l, custody))

	// 余额已足够时不增发
	minted, err = l.EnsureBalance(ctx, tokenAddr, alice, amt(60))
	require.NoError(t, err)
	assert.True(t, minted.IsZero())
	assert.Equal(t, "100", balance(t, l, alice))

	supply, err := l.TotalSupply(tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "130", supply.String())

	_, err = l.EnsureBalance(ctx, bob, custody, amt(1))
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestTx_RollbackDiscards(t *testing.T) {
	l := newFunded(t)

	tx, err := l.Begin(context.Background(), tokenAddr, custody)
	require.NoError(t, err)
	require.NoError(t, tx.TransferFrom(alice, custody, amt(10)))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, "100", balance(t, l, alice))
	assert.Equal(t, "0", balance(t, l, custody))
	assert.ErrorIs(t, tx.Transfer(bob, amt(1)), ErrTxDone)
}

func TestTx_Errors(t *testing.T) {
	l := newFunded(t)
	tx, err := l.Begin(context.Background(), tokenAddr, custody)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.TransferFrom(alice, custody, amt(51)), ErrInsufficientAllowance)
	assert.ErrorIs(t, tx.Transfer(bob, amt(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, tx.Burn(amt(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, tx.Transfer(bob, amt(0)), ErrInvalidAmount)
	assert.ErrorIs(t, tx.Transfer(bob, decimal.RequireFromString("0.5")), ErrInvalidAmount)
}

func TestTx_ConflictOnConcurrentChange(t *testing.T) {
	l := newFunded(t)
	tx, err := l.Begin(context.Background(), tokenAddr, custody)
	require.NoError(t, err)
	require.NoError(t, tx.TransferFrom(alice, custody, amt(10)))

	require.NoError(t, l.Mint(tokenAddr, alice, amt(1)))

	assert.ErrorIs(t, tx.Commit(), ErrConflict)
	assert.Equal(t, "101", balance(t, l, alice))
	assert.Equal(t, "0", balance(t, l, custody))
}

func TestBank_Pay(t *testing.T) {
	b := NewBank()
	require.NoError(t, b.Deposit(alice, amt(10)))

	require.NoError(t, b.Pay(context.Background(), alice, bob, amt(4)))
	assert.Equal(t, "6", b.Balance(alice).String())
	assert.Equal(t, "4", b.Balance(bob).String())

	assert.ErrorIs(t, b.Pay(context.Background(), alice, bob, amt(7)), ErrInsufficientBalance)
	assert.ErrorIs(t, b.Pay(context.Background(), alice, bob, amt(0)), ErrInvalidAmount)
}

func TestFromGenesis(t *testing.T) {
	genesis := []config.TokenGenesis{{
		Address: tokenAddr.Hex(),
		Symbol:  "BURN",
		// viper会把map的key转成小写
		Balances:   map[string]string{"0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc": "1000"},
		Allowances: map[string]string{"0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc": "500"},
	}}
	native := map[string]string{bob.Hex(): "77"}

	ledger, bank, err := FromGenesis(genesis, native, custody)
	require.NoError(t, err)

	assert.Equal(t, "1000", balance(t, ledger, alice))
	allowance, err := ledger.Allowance(context.Background(), tokenAddr, alice, custody)
	require.NoError(t, err)
	assert.Equal(t, "500", allowance.String())
	assert.Equal(t, "77", bank.Balance(bob).String())

	_, _, err = FromGenesis([]config.TokenGenesis{{Address: "bad", Symbol: "X"}}, nil, custody)
	assert.Error(t, err)

	_, _, err = FromGenesis(nil, map[string]string{bob.Hex(): "-1"}, custody)
	assert.Error(t, err)
}
