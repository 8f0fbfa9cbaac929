package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
)

var (
	ErrUnknownToken          = errors.New("代币未注册")
	ErrTokenExists           = errors.New("代币已注册")
	ErrInvalidAmount         = errors.New("金额无效")
	ErrInsufficientBalance   = errors.New("余额不足")
	ErrInsufficientAllowance = errors.New("授权额度不足")
	ErrTxDone                = errors.New("事务已结束")
	ErrConflict              = errors.New("账户状态已被并发修改")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type tokenState struct {
	symbol      string
	balances    map[common.Address]decimal.Decimal
	allowances  map[allowanceKey]decimal.Decimal
	totalSupply decimal.Decimal
	burned      decimal.Decimal
}

// Ledger 进程内的ERC-20账本，实现lottery.TokenGateway
type Ledger struct {
	mu     sync.RWMutex
	tokens map[common.Address]*tokenState
}

var (
	_ lottery.TokenGateway      = (*Ledger)(nil)
	_ lottery.CustodyReconciler = (*Ledger)(nil)
)

// NewLedger 创建空账本
func NewLedger() *Ledger {
	return &Ledger{tokens: make(map[common.Address]*tokenState)}
}

// Register 注册代币
func (l *Ledger) Register(token common.Address, symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[token]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, token.Hex())
	}
	l.tokens[token] = &tokenState{
		symbol:      symbol,
		balances:    make(map[common.Address]decimal.Decimal),
		allowances:  make(map[allowanceKey]decimal.Decimal),
		totalSupply: decimal.Zero,
		burned:      decimal.Zero,
	}
	return nil
}

// Mint 增发
func (l *Ledger) Mint(token, to common.Address, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.state(token)
	if err != nil {
		return err
	}
	st.balances[to] = st.balances[to].Add(amount)
	st.totalSupply = st.totalSupply.Add(amount)
	return nil
}

// Approve 设置owner对spender的授权额度（覆盖）
func (l *Ledger) Approve(token, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.state(token)
	if err != nil {
		return err
	}
	st.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

func (l *Ledger) Symbol(ctx context.Context, token common.Address) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := l.state(token)
	if err != nil {
		return "", err
	}
	return st.symbol, nil
}

func (l *Ledger) Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := l.state(token)
	if err != nil {
		return decimal.Zero, err
	}
	return st.allowances[allowanceKey{owner, spender}], nil
}

func (l *Ledger) BalanceOf(ctx context.Context, token, owner common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := l.state(token)
	if err != nil {
		return decimal.Zero, err
	}
	return st.balances[owner], nil
}

// EnsureBalance owner余额低于min时增发差额
func (l *Ledger) EnsureBalance(ctx context.Context, token, owner common.Address, min decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.state(token)
	if err != nil {
		return decimal.Zero, err
	}
	short := min.Sub(st.balances[owner])
	if !short.IsPositive() {
		return decimal.Zero, nil
	}
	st.balances[owner] = st.balances[owner].Add(short)
	st.totalSupply = st.totalSupply.Add(short)
	return short, nil
}

// TotalSupply 当前流通总量（已扣除销毁）
func (l *Ledger) TotalSupply(token common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := l.state(token)
	if err != nil {
		return decimal.Zero, err
	}
	return st.totalSupply, nil
}

// Burned 累计销毁量
func (l *Ledger) Burned(token common.Address) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, err := l.state(token)
	if err != nil {
		return decimal.Zero, err
	}
	return st.burned, nil
}

// Begin 开启事务
func (l *Ledger) Begin(ctx context.Context, token, operator common.Address) (lottery.TokenTx, error) {
	l.mu.RLock()
	_, err := l.state(token)
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return newTx(l, token, operator), nil
}

// state 调用方持有锁
func (l *Ledger) state(token common.Address) (*tokenState, error) {
	st, ok := l.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return st, nil
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.IsInteger()
}
