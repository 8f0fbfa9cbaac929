package lottery

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// DrawWinner 结算已结束的一轮：按票数加权随机选出中奖者，派发奖池并开启下一轮
func (e *Engine) DrawWinner(ctx context.Context, id uint64) (*model.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	now := e.clock.Now()
	if now.Before(l.RoundEndTime) {
		return nil, fmt.Errorf("%w: 彩票 %d 第 %d 轮将于 %s 结束", ErrRoundNotEnded, id, l.Round, l.RoundEndTime)
	}
	tickets := len(l.Participants)
	if tickets == 0 {
		return nil, fmt.Errorf("%w: 彩票 %d 第 %d 轮", ErrNoParticipants, id, l.Round)
	}

	entropy, err := e.entropy.Entropy(ctx, DrawSeed{
		LotteryID:    id,
		Round:        l.Round,
		RoundEndTime: l.RoundEndTime,
		Tickets:      tickets,
	})
	if err != nil {
		return nil, fmt.Errorf("获取开奖随机数失败: %w", err)
	}
	index := SelectIndex(entropy, tickets)
	winner := l.Participants[index]
	amount := l.PrizePool

	if amount.IsPositive() {
		if err := e.payout(ctx, l.TokenAddress, winner, amount); err != nil {
			return nil, err
		}
	}

	settlement := &model.Settlement{
		LotteryID:   id,
		Round:       l.Round,
		Winner:      winner,
		Amount:      amount,
		WinnerIndex: index,
		Tickets:     tickets,
		DrawnAt:     now,
	}

	l.LastWinner = winner
	l.PrizePool = decimal.Zero
	l.Participants = []common.Address{}
	l.Round++
	l.RoundEndTime = now.Add(l.RoundDuration)
	settlement.NextRoundEnd = l.RoundEndTime

	e.logger.Info("开奖完成",
		zap.Uint64("lottery_id", id),
		zap.Uint64("round", settlement.Round),
		zap.String("winner", winner.Hex()),
		zap.String("amount", amount.String()),
		zap.Int("tickets", tickets))

	cp := *settlement
	e.emit(ctx, &model.LotteryEvent{
		Type:       model.EventLotterySettled,
		LotteryID:  id,
		Lottery:    l.Clone(),
		Settlement: &cp,
	})
	return settlement, nil
}

func (e *Engine) payout(ctx context.Context, token, winner common.Address, amount decimal.Decimal) error {
	tx, err := e.tokens.Begin(ctx, token, e.custody)
	if err != nil {
		return fmt.Errorf("%w: 开启代币事务失败: %w", ErrTransferFailed, err)
	}
	defer tx.Rollback()

	if err := tx.Transfer(winner, amount); err != nil {
		return fmt.Errorf("%w: 派奖失败: %w", ErrTransferFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: 提交派奖事务失败: %w", ErrTransferFailed, err)
	}
	return nil
}

// SelectIndex 将256位随机数对票数取模得到中奖下标
func SelectIndex(entropy [32]byte, tickets int) int {
	if tickets <= 0 {
		return 0
	}
	n := new(big.Int).SetBytes(entropy[:])
	return int(n.Mod(n, big.NewInt(int64(tickets))).Int64())
}
