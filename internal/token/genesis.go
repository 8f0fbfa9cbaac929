package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lvdashuaibi/tokenlottery/config"
)

// FromGenesis 按配置初始化开发账本与原生币账户。
// allowances的key是owner地址，spender固定为custody。
func FromGenesis(tokens []config.TokenGenesis, native map[string]string, custody common.Address) (*Ledger, *Bank, error) {
	ledger := NewLedger()
	for _, g := range tokens {
		if !common.IsHexAddress(g.Address) {
			return nil, nil, fmt.Errorf("无效的代币地址: %q", g.Address)
		}
		token := common.HexToAddress(g.Address)
		if err := ledger.Register(token, g.Symbol); err != nil {
			return nil, nil, err
		}
		for owner, raw := range g.Balances {
			addr, amount, err := parseEntry(owner, raw)
			if err != nil {
				return nil, nil, fmt.Errorf("代币 %s 余额配置错误: %w", g.Symbol, err)
			}
			if amount.IsZero() {
				continue
			}
			if err := ledger.Mint(token, addr, amount); err != nil {
				return nil, nil, err
			}
		}
		for owner, raw := range g.Allowances {
			addr, amount, err := parseEntry(owner, raw)
			if err != nil {
				return nil, nil, fmt.Errorf("代币 %s 授权配置错误: %w", g.Symbol, err)
			}
			if err := ledger.Approve(token, addr, custody, amount); err != nil {
				return nil, nil, err
			}
		}
	}

	bank := NewBank()
	for owner, raw := range native {
		addr, amount, err := parseEntry(owner, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("原生币余额配置错误: %w", err)
		}
		if amount.IsZero() {
			continue
		}
		if err := bank.Deposit(addr, amount); err != nil {
			return nil, nil, err
		}
	}
	return ledger, bank, nil
}

func parseEntry(owner, raw string) (common.Address, decimal.Decimal, error) {
	if !common.IsHexAddress(owner) {
		return common.Address{}, decimal.Zero, fmt.Errorf("无效的地址: %q", owner)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return common.Address{}, decimal.Zero, fmt.Errorf("解析金额 %q 失败: %w", raw, err)
	}
	if amount.IsNegative() || !amount.IsInteger() {
		return common.Address{}, decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return common.HexToAddress(owner), amount, nil
}
