package lottery_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

func tokens(n int64) decimal.Decimal {
	return oneToken.Mul(decimal.NewFromInt(n))
}

func TestBuyTickets(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)
	h.fund(t, tokenA, buyer, tokens(10), tokens(10))

	p, err := h.engine.BuyTickets(context.Background(), buyer, id, 5, buyFee)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), p.Round)
	assert.Equal(t, int64(5), p.Quantity)
	assert.True(t, p.Total.Equal(tokens(5)))
	assert.True(t, p.BurnShare.Equal(tokens(2)))
	assert.True(t, p.PrizeShare.Equal(tokens(2)))
	assert.True(t, p.Remainder.Equal(tokens(1)))
	assert.Equal(t, reserve, p.ReserveReceiver)

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Len(t, l.Participants, 5)
	assert.True(t, l.PrizePool.Equal(tokens(2)))
	assert.True(t, l.TotalBurned.Equal(tokens(2)))
	assert.True(t, l.BuyFeePool.Equal(buyFee))

	// 代币流向：买家 -5，托管 +2（奖池），储备 +1，销毁 2
	assert.True(t, h.tokenBalance(t, tokenA, buyer).Equal(tokens(5)))
	assert.True(t, h.tokenBalance(t, tokenA, custody).Equal(tokens(2)))
	assert.True(t, h.tokenBalance(t, tokenA, reserve).Equal(tokens(1)))
	burned, err := h.ledger.Burned(tokenA)
	require.NoError(t, err)
	assert.True(t, burned.Equal(tokens(2)))

	allowance, err := h.ledger.Allowance(context.Background(), tokenA, buyer, custody)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(tokens(5)))

	// 创建费200 + 购票费10
	assert.Equal(t, "210", h.bank.Balance(reserve).String())

	require.Len(t, h.sink.events, 2)
	ev := h.sink.events[1]
	assert.Equal(t, model.EventTicketsPurchased, ev.Type)
	assert.NotEmpty(t, ev.ID)
	require.NotNil(t, ev.Purchase)
	assert.Equal(t, buyer, ev.Purchase.Buyer)
	assert.Len(t, ev.Lottery.Participants, 5)
}

func TestBuyTickets_ParticipantMultiplicity(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, decimal.NewFromInt(3), time.Hour)
	h.fund(t, tokenA, buyer, decimal.NewFromInt(100), decimal.NewFromInt(100))
	h.fund(t, tokenA, buyer2, decimal.NewFromInt(100), decimal.NewFromInt(100))

	ctx := context.Background()
	for _, step := range []struct {
		who common.Address
		qty int64
	}{{buyer, 2}, {buyer2, 3}, {buyer, 1}} {
		p, err := h.engine.BuyTickets(ctx, step.who, id, step.qty, buyFee)
		require.NoError(t, err)
		assert.True(t, p.BurnShare.Add(p.PrizeShare).Add(p.Remainder).Equal(p.Total))
	}

	ps, err := h.engine.GetParticipants(id)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{buyer, buyer, buyer2, buyer2, buyer2, buyer}, ps)

	count := map[common.Address]int{}
	for _, p := range ps {
		count[p]++
	}
	assert.Equal(t, 3, count[buyer])
	assert.Equal(t, 3, count[buyer2])
}

func TestBuyTickets_CustomReserveReceiver(t *testing.T) {
	h := newHarness(t)
	beneficiary := common.HexToAddress("0x976EA74026E726554dB657fA54763abd0C3a0aa9")

	id, err := h.engine.CreateLottery(context.Background(), lottery.CreateParams{
		Creator:         creator,
		TokenAddress:    tokenA,
		RoundDuration:   time.Hour,
		TicketPrice:     decimal.NewFromInt(100),
		ReserveReceiver: beneficiary,
		PaidFee:         creationFee,
	})
	require.NoError(t, err)
	h.fund(t, tokenA, buyer, decimal.NewFromInt(100), decimal.NewFromInt(100))

	p, err := h.engine.BuyTickets(context.Background(), buyer, id, 1, buyFee)
	require.NoError(t, err)
	assert.Equal(t, beneficiary, p.ReserveReceiver)
	assert.Equal(t, "20", h.tokenBalance(t, tokenA, beneficiary).String())
	assert.True(t, h.tokenBalance(t, tokenA, reserve).IsZero())
	// 原生币手续费始终进入全局储备金
	assert.Equal(t, "210", h.bank.Balance(reserve).String())
}

func TestBuyTickets_Rejected(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)
	h.fund(t, tokenA, buyer, tokens(2), tokens(10))
	h.fund(t, tokenA, buyer2, tokens(10), tokens(2))

	cases := []struct {
		name   string
		who    common.Address
		id     uint64
		qty    int64
		fee    decimal.Decimal
		target error
	}{
		{"unknown lottery", buyer, 42, 1, buyFee, lottery.ErrNotFound},
		{"zero quantity", buyer, id, 0, buyFee, lottery.ErrInvalidParameter},
		{"negative quantity", buyer, id, -1, buyFee, lottery.ErrInvalidParameter},
		{"null buyer", common.Address{}, id, 1, buyFee, lottery.ErrInvalidParameter},
		{"fee mismatch", buyer, id, 1, decimal.NewFromInt(9), lottery.ErrInsufficientFee},
		{"allowance below total", buyer2, id, 3, buyFee, lottery.ErrInsufficientAllowance},
		{"balance below total", buyer, id, 3, buyFee, lottery.ErrInsufficientBalance},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.BuyTickets(context.Background(), tc.who, tc.id, tc.qty, tc.fee)
			assert.ErrorIs(t, err, tc.target)
		})
	}

	assertUntouched(t, h, id)
	assert.True(t, h.tokenBalance(t, tokenA, buyer).Equal(tokens(2)))
	assert.True(t, h.tokenBalance(t, tokenA, buyer2).Equal(tokens(10)))
}

// assertUntouched 确认彩票状态和资金都没有变化
func assertUntouched(t *testing.T, h *harness, id uint64) {
	t.Helper()
	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Empty(t, l.Participants)
	assert.True(t, l.PrizePool.IsZero())
	assert.True(t, l.TotalBurned.IsZero())
	assert.True(t, l.BuyFeePool.IsZero())
	assert.True(t, h.tokenBalance(t, tokenA, custody).IsZero())
	assert.True(t, h.tokenBalance(t, tokenA, reserve).IsZero())
	assert.Equal(t, creationFee.String(), h.bank.Balance(reserve).String())
	for _, ev := range h.sink.events {
		assert.NotEqual(t, model.EventTicketsPurchased, ev.Type)
	}
}

func TestBuyTickets_RoundClosed(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)
	h.fund(t, tokenA, buyer, tokens(10), tokens(10))

	h.clock.Advance(time.Hour - time.Second)
	_, err := h.engine.BuyTickets(context.Background(), buyer, id, 1, buyFee)
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 1, buyFee)
	assert.ErrorIs(t, err, lottery.ErrRoundClosed)

	// 未开奖之前一直拒绝购票
	h.clock.Advance(24 * time.Hour)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 1, buyFee)
	assert.ErrorIs(t, err, lottery.ErrRoundClosed)

	_, err = h.engine.DrawWinner(context.Background(), id)
	require.NoError(t, err)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 1, buyFee)
	assert.NoError(t, err)
}

func TestBuyTickets_GatewayFailureRollsBack(t *testing.T) {
	cases := map[string]func(g *flakyGateway){
		"begin":    func(g *flakyGateway) { g.failBegin = true },
		"burn":     func(g *flakyGateway) { g.failBurn = true },
		"transfer": func(g *flakyGateway) { g.failTransfer = true },
		"commit":   func(g *flakyGateway) { g.failCommit = true },
	}

	for name, inject := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			id := h.create(t, tokenA, oneToken, time.Hour)
			h.fund(t, tokenA, buyer, tokens(10), tokens(10))
			nativeBefore := h.bank.Balance(buyer)

			inject(h.gateway)
			_, err := h.engine.BuyTickets(context.Background(), buyer, id, 5, buyFee)
			assert.ErrorIs(t, err, lottery.ErrTransferFailed)

			assertUntouched(t, h, id)
			assert.True(t, h.tokenBalance(t, tokenA, buyer).Equal(tokens(10)))
			assert.True(t, nativeBefore.Equal(h.bank.Balance(buyer)), "手续费应当退回")
		})
	}
}

func TestBuyTickets_NativeFeeFailure(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, oneToken, time.Hour)
	poor := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	h.fund(t, tokenA, poor, tokens(10), tokens(10))

	_, err := h.engine.BuyTickets(context.Background(), poor, id, 1, buyFee)
	assert.ErrorIs(t, err, lottery.ErrTransferFailed)

	assertUntouched(t, h, id)
	assert.True(t, h.tokenBalance(t, tokenA, poor).Equal(tokens(10)))
}

func TestBuyTickets_ZeroBuyFee(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.SetFees(creationFee, decimal.Zero))
	id := h.create(t, tokenA, oneToken, time.Hour)
	poor := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	h.fund(t, tokenA, poor, tokens(1), tokens(1))

	_, err := h.engine.BuyTickets(context.Background(), poor, id, 1, decimal.Zero)
	require.NoError(t, err)

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.True(t, l.BuyFeePool.IsZero())
	assert.Len(t, l.Participants, 1)
}

func TestBuyTickets_Concurrent(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, tokenA, decimal.NewFromInt(10), time.Hour)

	const n = 32
	buyers := make([]common.Address, n)
	for i := range buyers {
		buyers[i] = common.BigToAddress(big.NewInt(int64(5000 + i)))
		h.fund(t, tokenA, buyers[i], decimal.NewFromInt(20), decimal.NewFromInt(20))
		require.NoError(t, h.bank.Deposit(buyers[i], buyFee))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, b := range buyers {
		wg.Add(1)
		go func(b common.Address) {
			defer wg.Done()
			_, err := h.engine.BuyTickets(context.Background(), b, id, 2, buyFee)
			errs <- err
		}(b)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Len(t, l.Participants, 2*n)
	assert.Equal(t, "256", l.PrizePool.String())
	assert.Equal(t, "256", h.tokenBalance(t, tokenA, custody).String())
}

func TestBuyTickets_RoundTicketCap(t *testing.T) {
	h := newHarness(t, func(o *lottery.Options) { o.MaxTicketsPerRound = 5 })
	id := h.create(t, tokenA, decimal.NewFromInt(1), time.Hour)
	h.fund(t, tokenA, buyer, tokens(1), tokens(1))

	// 价格极低时超大数量也要在划转之前被拒绝
	_, err := h.engine.BuyTickets(context.Background(), buyer, id, 1_000_000_000, buyFee)
	assert.ErrorIs(t, err, lottery.ErrInvalidParameter)
	assertUntouched(t, h, id)

	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 3, buyFee)
	require.NoError(t, err)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 3, buyFee)
	assert.ErrorIs(t, err, lottery.ErrInvalidParameter)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 2, buyFee)
	require.NoError(t, err)

	l, err := h.engine.GetLotteryData(id)
	require.NoError(t, err)
	assert.Len(t, l.Participants, 5)

	// 开奖后新一轮重新计数
	h.clock.Advance(time.Hour)
	_, err = h.engine.DrawWinner(context.Background(), id)
	require.NoError(t, err)
	_, err = h.engine.BuyTickets(context.Background(), buyer, id, 5, buyFee)
	assert.NoError(t, err)
}
