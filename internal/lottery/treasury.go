package lottery

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	DefaultBurnPercent  = 40
	DefaultPrizePercent = 40
)

var hundred = decimal.NewFromInt(100)

// Treasury 金库配置：创建费、购票费、全局储备金地址以及分账比例
type Treasury struct {
	creationFee  decimal.Decimal
	buyFee       decimal.Decimal
	reserveFund  common.Address
	burnPercent  int64
	prizePercent int64
}

// NewTreasury 创建金库配置
func NewTreasury(creationFee, buyFee decimal.Decimal, reserveFund common.Address, burnPercent, prizePercent int64) (*Treasury, error) {
	if burnPercent < 0 || prizePercent < 0 || burnPercent+prizePercent > 100 {
		return nil, fmt.Errorf("%w: 销毁比例 %d 与奖池比例 %d", ErrInvalidParameter, burnPercent, prizePercent)
	}
	t := &Treasury{burnPercent: burnPercent, prizePercent: prizePercent}
	if err := t.setFees(creationFee, buyFee); err != nil {
		return nil, err
	}
	if err := t.setReserveFund(reserveFund); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Treasury) CreationFee() decimal.Decimal { return t.creationFee }
func (t *Treasury) BuyFee() decimal.Decimal      { return t.buyFee }
func (t *Treasury) ReserveFund() common.Address  { return t.reserveFund }

// Split 按比例拆分购票金额，余数部分吸收整数除法的舍入误差
func (t *Treasury) Split(total decimal.Decimal) (burn, prize, remainder decimal.Decimal) {
	burn = percentOf(total, t.burnPercent)
	prize = percentOf(total, t.prizePercent)
	remainder = total.Sub(burn).Sub(prize)
	return burn, prize, remainder
}

// ResolveReserve 未设置收款方时回落到全局储备金地址
func (t *Treasury) ResolveReserve(receiver common.Address) common.Address {
	if receiver == (common.Address{}) {
		return t.reserveFund
	}
	return receiver
}

func (t *Treasury) setFees(creationFee, buyFee decimal.Decimal) error {
	if !validFee(creationFee) || !validFee(buyFee) {
		return fmt.Errorf("%w: 手续费必须是非负整数", ErrInvalidParameter)
	}
	t.creationFee = creationFee
	t.buyFee = buyFee
	return nil
}

func (t *Treasury) setReserveFund(addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: 储备金地址为空", ErrInvalidParameter)
	}
	t.reserveFund = addr
	return nil
}

func percentOf(total decimal.Decimal, percent int64) decimal.Decimal {
	q, _ := total.Mul(decimal.NewFromInt(percent)).QuoRem(hundred, 0)
	return q
}

func validFee(d decimal.Decimal) bool {
	return !d.IsNegative() && d.IsInteger()
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.IsInteger()
}
