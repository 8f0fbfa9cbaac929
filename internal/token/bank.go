package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
)

// Bank 原生币账户
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]decimal.Decimal
}

var _ lottery.NativePayer = (*Bank)(nil)

func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]decimal.Decimal)}
}

// Deposit 充值
func (b *Bank) Deposit(addr common.Address, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = b.balances[addr].Add(amount)
	return nil
}

func (b *Bank) Balance(addr common.Address) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr]
}

// Pay 原生币转账
func (b *Bank) Pay(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s 原生币余额 %s，需要 %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	b.balances[from] = bal.Sub(amount)
	b.balances[to] = b.balances[to].Add(amount)
	return nil
}
