package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Tx 暂存的代币事务。
// 读写都在本地副本上进行，Commit时逐项比对账本当前值与首次读取值，
// 一致才整体写入，否则返回ErrConflict。
type Tx struct {
	ledger   *Ledger
	token    common.Address
	operator common.Address

	balances     map[common.Address]decimal.Decimal
	origBalances map[common.Address]decimal.Decimal
	allowances   map[allowanceKey]decimal.Decimal
	origAllow    map[allowanceKey]decimal.Decimal
	touched      []common.Address
	burned       decimal.Decimal

	done bool
}

func newTx(l *Ledger, token, operator common.Address) *Tx {
	return &Tx{
		ledger:       l,
		token:        token,
		operator:     operator,
		balances:     make(map[common.Address]decimal.Decimal),
		origBalances: make(map[common.Address]decimal.Decimal),
		allowances:   make(map[allowanceKey]decimal.Decimal),
		origAllow:    make(map[allowanceKey]decimal.Decimal),
		burned:       decimal.Zero,
	}
}

func (tx *Tx) balance(addr common.Address) decimal.Decimal {
	if b, ok := tx.balances[addr]; ok {
		return b
	}
	tx.ledger.mu.RLock()
	b := tx.ledger.tokens[tx.token].balances[addr]
	tx.ledger.mu.RUnlock()

	tx.balances[addr] = b
	tx.origBalances[addr] = b
	tx.touched = append(tx.touched, addr)
	return b
}

func (tx *Tx) allowance(key allowanceKey) decimal.Decimal {
	if a, ok := tx.allowances[key]; ok {
		return a
	}
	tx.ledger.mu.RLock()
	a := tx.ledger.tokens[tx.token].allowances[key]
	tx.ledger.mu.RUnlock()

	tx.allowances[key] = a
	tx.origAllow[key] = a
	return a
}

func (tx *Tx) move(from, to common.Address, amount decimal.Decimal) error {
	fromBal := tx.balance(from)
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s 余额 %s，需要 %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	toBal := tx.balance(to)
	if from == to {
		return nil
	}
	tx.balances[from] = fromBal.Sub(amount)
	tx.balances[to] = toBal.Add(amount)
	return nil
}

func (tx *Tx) TransferFrom(owner, to common.Address, amount decimal.Decimal) error {
	if tx.done {
		return ErrTxDone
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	key := allowanceKey{owner: owner, spender: tx.operator}
	allowed := tx.allowance(key)
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: 授权 %s，需要 %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := tx.move(owner, to, amount); err != nil {
		return err
	}
	tx.allowances[key] = allowed.Sub(amount)
	return nil
}

func (tx *Tx) Transfer(to common.Address, amount decimal.Decimal) error {
	if tx.done {
		return ErrTxDone
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return tx.move(tx.operator, to, amount)
}

func (tx *Tx) Burn(amount decimal.Decimal) error {
	if tx.done {
		return ErrTxDone
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	bal := tx.balance(tx.operator)
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: 销毁 %s，余额 %s", ErrInsufficientBalance, amount, bal)
	}
	tx.balances[tx.operator] = bal.Sub(amount)
	tx.burned = tx.burned.Add(amount)
	return nil
}

// Commit 校验并写入账本
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.tokens[tx.token]
	for addr, orig := range tx.origBalances {
		if !st.balances[addr].Equal(orig) {
			return fmt.Errorf("%w: %s", ErrConflict, addr.Hex())
		}
	}
	for key, orig := range tx.origAllow {
		if !st.allowances[key].Equal(orig) {
			return fmt.Errorf("%w: 授权 %s -> %s", ErrConflict, key.owner.Hex(), key.spender.Hex())
		}
	}

	for _, addr := range tx.touched {
		st.balances[addr] = tx.balances[addr]
	}
	for key, cur := range tx.allowances {
		st.allowances[key] = cur
	}
	st.totalSupply = st.totalSupply.Sub(tx.burned)
	st.burned = st.burned.Add(tx.burned)
	return nil
}

// Rollback 丢弃暂存的变更
func (tx *Tx) Rollback() error {
	tx.done = true
	return nil
}
