package lottery_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

func TestDrawWinner_SingleBuyer(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, 3600*time.Second)
	h.fund(t, tokenA, buyer, tokens(5), tokens(5))

	_, err := h.engine.BuyTickets(context.Background(), buyer, id, 5, buyFee)
	require.NoError(t, err)

	before, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Len(t, before.Participants, 5)
	assert.True(t, before.PrizePool.Equal(tokens(2)))
	assert.True(t, before.TotalBurned.Equal(tokens(2)))
	balanceBefore := h.tokenBalance(t, tokenA, buyer)

	h.clock.Advance(3600 * time.Second)
	h.entropy.value = entropyOf(7)

	s, err := h.engine.DrawWinner(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, buyer, s.Winner)
	assert.Equal(t, 2, s.WinnerIndex)
	assert.Equal(t, 5, s.Tickets)
	assert.Equal(t, uint64(1), s.Round)
	assert.True(t, s.Amount.Equal(tokens(2)))

	assert.True(t, h.tokenBalance(t, tokenA, buyer).Equal(balanceBefore.Add(tokens(2))))
	assert.True(t, h.tokenBalance(t, tokenA, custody).IsZero())

	after, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.True(t, after.PrizePool.IsZero())
	assert.Empty(t, after.Participants)
	assert.Equal(t, buyer, after.LastWinner)
	assert.Equal(t, uint64(2), after.Round)
	assert.True(t, after.RoundEndTime.After(before.RoundEndTime))
	assert.Equal(t, startTime.Add(2*3600*time.Second), after.RoundEndTime)
	assert.Equal(t, after.RoundEndTime, s.NextRoundEnd)
	assert.True(t, after.TotalBurned.Equal(before.TotalBurned))

	last := h.sink.events[len(h.sink.events)-1]
	assert.Equal(t, model.EventLotterySettled, last.Type)
	require.NotNil(t, last.Settlement)
	assert.Equal(t, buyer, last.Settlement.Winner)
}

func TestDrawWinner_HundredBuyers(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)

	buyers := make([]common.Address, 100)
	for i := range buyers {
		buyers[i] = common.BigToAddress(big.NewInt(int64(1000 + i)))
		h.fund(t, tokenA, buyers[i], oneToken, oneToken)
		require.NoError(t, h.bank.Deposit(buyers[i], buyFee))
	}

	burnedBefore, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)

	for _, b := range buyers {
		_, err := h.engine.BuyTickets(context.Background(), b, id, 1, buyFee)
		require.NoError(t, err)
	}

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	require.Len(t, l.Participants, 100)
	assert.True(t, l.TotalBurned.GreaterThan(burnedBefore.TotalBurned))

	h.clock.Advance(time.Hour)
	h.entropy.value = entropyOf(142)

	s, err := h.engine.DrawWinner(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 42, s.WinnerIndex)
	assert.Equal(t, buyers[42], s.Winner)
	assert.Contains(t, buyers, s.Winner)
	assert.True(t, h.tokenBalance(t, tokenA, s.Winner).Equal(l.PrizePool))
}

func TestDrawWinner_Rejected(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)

	_, err := h.engine.DrawWinner(context.Background(), 99)
	assert.ErrorIs(t, err, lottery.ErrNotFound)

	_, err = h.engine.DrawWinner(context.Background(), id)
	assert.ErrorIs(t, err, lottery.ErrRoundNotEnded)

	h.clock.Advance(time.Hour)
	before, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)

	_, err = h.engine.DrawWinner(context.Background(), id)
	assert.ErrorIs(t, err, lottery.ErrNoParticipants)

	after, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, h.entropy.calls)
}

func TestDrawWinner_FailureLeavesRoundOpen(t *testing.T) {
	cases := map[string]func(h *harness){
		"entropy":  func(h *harness) { h.entropy.err = errInjected },
		"transfer": func(h *harness) { h.gateway.failTransfer = true },
		"commit":   func(h *harness) { h.gateway.failCommit = true },
	}

	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			id := h.create(t, tokenA, oneToken, time.Hour)
			h.fund(t, tokenA, buyer, tokens(5), tokens(5))
			_, err := h.engine.BuyTickets(context.Background(), buyer, id, 5, buyFee)
			require.NoError(t, err)

			h.clock.Advance(time.Hour)
			before, err := h.engine.GetLotteryData(id)
			require.NoError(t, err)

			inject(h)
			_, err = h.engine.DrawWinner(context.Background(), id)
			require.Error(t, err)

			after, err := h.engine.GetLotteryData(id)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.True(t, h.tokenBalance(t, tokenA, custody).Equal(tokens(2)))
		})
	}
}

func TestDrawWinner_ConsecutiveRounds(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, decimal.NewFromInt(10), time.Hour)
	h.fund(t, tokenA, buyer, decimal.NewFromInt(100), decimal.NewFromInt(100))
	h.fund(t, tokenA, buyer2, decimal.NewFromInt(100), decimal.NewFromInt(100))
	ctx := context.Background()

	for round := uint64(1); round <= 3; round++ {
		_, err := h.engine.BuyTickets(ctx, buyer, id, 1, buyFee)
		require.NoError(t, err)
		_, err = h.engine.BuyTickets(ctx, buyer2, id, 1, buyFee)
		require.NoError(t, err)

		h.clock.Advance(time.Hour)
		h.entropy.value = entropyOf(byte(round))
		s, err := h.engine.DrawWinner(ctx, id)
		require.NoError(t, err, fmt.Sprintf("round %d", round))
		assert.Equal(t, round, s.Round)
		assert.Equal(t, "8", s.Amount.String())
	}

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), l.Round)
	assert.Equal(t, "24", l.TotalBurned.String())
	// 轮次1、3取下标1，轮次2取下标0
	assert.Equal(t, buyer2, l.LastWinner)
}

func TestSelectIndex(t *testing.T) {
	assert.Equal(t, 0, lottery.SelectIndex(entropyOf(0), 5))
	assert.Equal(t, 2, lottery.SelectIndex(entropyOf(7), 5))
	assert.Equal(t, 0, lottery.SelectIndex(entropyOf(7), 1))
	assert.Equal(t, 0, lottery.SelectIndex(entropyOf(7), 0))

	var full [32]byte
	for i := range full {
		full[i] = 0xff
	}
	// 2^256-1 对 10 取模为 5
	assert.Equal(t, 5, lottery.SelectIndex(full, 10))
}
