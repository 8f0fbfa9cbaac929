package lottery

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// BuyTickets 购买quantity张彩票。
// 代币划转、手续费与状态更新要么全部完成，要么全部不生效。
func (e *Engine) BuyTickets(ctx context.Context, buyer common.Address, id uint64, quantity int64, paidBuyFee decimal.Decimal) (*model.Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: 购票数量必须为正: %d", ErrInvalidParameter, quantity)
	}
	if sold := int64(len(l.Participants)); quantity > e.maxTickets-sold {
		return nil, fmt.Errorf("%w: 本轮已售 %d 张，单轮上限 %d 张，无法再购买 %d 张",
			ErrInvalidParameter, sold, e.maxTickets, quantity)
	}
	if buyer == (common.Address{}) {
		return nil, fmt.Errorf("%w: 购票地址为空", ErrInvalidParameter)
	}
	if !paidBuyFee.Equal(e.treasury.buyFee) {
		return nil, fmt.Errorf("%w: 需要 %s，实际 %s", ErrInsufficientFee, e.treasury.buyFee, paidBuyFee)
	}
	now := e.clock.Now()
	if !now.Before(l.RoundEndTime) {
		return nil, fmt.Errorf("%w: 彩票 %d 第 %d 轮已于 %s 截止", ErrRoundClosed, id, l.Round, l.RoundEndTime)
	}

	total := l.TicketPrice.Mul(decimal.NewFromInt(quantity))

	allowance, err := e.tokens.Allowance(ctx, l.TokenAddress, buyer, e.custody)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	if allowance.LessThan(total) {
		return nil, fmt.Errorf("%w: 需要 %s，已授权 %s", ErrInsufficientAllowance, total, allowance)
	}
	balance, err := e.tokens.BalanceOf(ctx, l.TokenAddress, buyer)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	if balance.LessThan(total) {
		return nil, fmt.Errorf("%w: 需要 %s，余额 %s", ErrInsufficientBalance, total, balance)
	}

	burn, prize, remainder := e.treasury.Split(total)
	reserve := e.treasury.ResolveReserve(l.ReserveReceiver)

	tx, err := e.tokens.Begin(ctx, l.TokenAddress, e.custody)
	if err != nil {
		return nil, fmt.Errorf("%w: 开启代币事务失败: %w", ErrTransferFailed, err)
	}
	defer tx.Rollback()

	if err := tx.TransferFrom(buyer, e.custody, total); err != nil {
		return nil, fmt.Errorf("%w: 购票款转入托管失败: %w", ErrTransferFailed, err)
	}
	if burn.IsPositive() {
		if err := tx.Burn(burn); err != nil {
			return nil, fmt.Errorf("%w: 销毁失败: %w", ErrTransferFailed, err)
		}
	}
	if remainder.IsPositive() {
		if err := tx.Transfer(reserve, remainder); err != nil {
			return nil, fmt.Errorf("%w: 余额转入储备失败: %w", ErrTransferFailed, err)
		}
	}

	if err := e.payFee(ctx, buyer, paidBuyFee); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		e.refundFee(ctx, buyer, paidBuyFee)
		return nil, fmt.Errorf("%w: 提交代币事务失败: %w", ErrTransferFailed, err)
	}

	l.PrizePool = l.PrizePool.Add(prize)
	l.TotalBurned = l.TotalBurned.Add(burn)
	l.BuyFeePool = l.BuyFeePool.Add(paidBuyFee)
	for i := int64(0); i < quantity; i++ {
		l.Participants = append(l.Participants, buyer)
	}

	purchase := &model.Purchase{
		LotteryID:       id,
		Round:           l.Round,
		Buyer:           buyer,
		Quantity:        quantity,
		Total:           total,
		BurnShare:       burn,
		PrizeShare:      prize,
		Remainder:       remainder,
		Fee:             paidBuyFee,
		ReserveReceiver: reserve,
		PurchasedAt:     now,
	}

	e.logger.Info("购票成功",
		zap.Uint64("lottery_id", id),
		zap.Uint64("round", l.Round),
		zap.String("buyer", buyer.Hex()),
		zap.Int64("quantity", quantity),
		zap.String("total", total.String()))

	cp := *purchase
	e.emit(ctx, &model.LotteryEvent{
		Type:      model.EventTicketsPurchased,
		LotteryID: id,
		Lottery:   l.Clone(),
		Purchase:  &cp,
	})
	return purchase, nil
}

// refundFee 代币事务提交失败时退回已收的手续费
func (e *Engine) refundFee(ctx context.Context, to common.Address, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	if err := e.native.Pay(ctx, e.treasury.reserveFund, to, amount); err != nil {
		e.logger.Error("退回购票手续费失败",
			zap.String("to", to.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}
