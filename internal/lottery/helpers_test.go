package lottery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
	"github.com/lvdashuaibi/tokenlottery/internal/token"
)

var (
	tokenA  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	tokenB  = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	custody = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	reserve = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	creator = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	buyer   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	buyer2  = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

var (
	oneToken    = decimal.New(1, 18)
	creationFee = decimal.NewFromInt(200)
	buyFee      = decimal.NewFromInt(10)
	startTime   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedEntropy 总是返回同一个值
type fixedEntropy struct {
	value [32]byte
	err   error
	calls int
}

func (f *fixedEntropy) Entropy(ctx context.Context, seed lottery.DrawSeed) ([32]byte, error) {
	f.calls++
	return f.value, f.err
}

func entropyOf(n byte) [32]byte {
	var v [32]byte
	v[31] = n
	return v
}

type recordingSink struct {
	mu     sync.Mutex
	events []*model.LotteryEvent
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, event *model.LotteryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

var errInjected = errors.New("injected failure")

// flakyGateway 包装真实账本，按需注入失败
type flakyGateway struct {
	*token.Ledger
	failBegin    bool
	failBurn     bool
	failTransfer bool
	failCommit   bool
}

func (g *flakyGateway) Begin(ctx context.Context, tok, operator common.Address) (lottery.TokenTx, error) {
	if g.failBegin {
		return nil, errInjected
	}
	tx, err := g.Ledger.Begin(ctx, tok, operator)
	if err != nil {
		return nil, err
	}
	return &flakyTx{TokenTx: tx, g: g}, nil
}

type flakyTx struct {
	lottery.TokenTx
	g *flakyGateway
}

func (tx *flakyTx) Burn(amount decimal.Decimal) error {
	if tx.g.failBurn {
		return errInjected
	}
	return tx.TokenTx.Burn(amount)
}

func (tx *flakyTx) Transfer(to common.Address, amount decimal.Decimal) error {
	if tx.g.failTransfer {
		return errInjected
	}
	return tx.TokenTx.Transfer(to, amount)
}

func (tx *flakyTx) Commit() error {
	if tx.g.failCommit {
		tx.TokenTx.Rollback()
		return errInjected
	}
	return tx.TokenTx.Commit()
}

type harness struct {
	engine  *lottery.Engine
	ledger  *token.Ledger
	gateway *flakyGateway
	bank    *token.Bank
	clock   *fakeClock
	entropy *fixedEntropy
	sink    *recordingSink
}

func newHarness(t *testing.T, opts ...func(*lottery.Options)) *harness {
	t.Helper()

	ledger := token.NewLedger()
	require.NoError(t, ledger.Register(tokenA, "AAA"))
	require.NoError(t, ledger.Register(tokenB, "BBB"))

	bank := token.NewBank()
	for _, addr := range []common.Address{creator, buyer, buyer2} {
		require.NoError(t, bank.Deposit(addr, decimal.NewFromInt(1_000_000)))
	}

	treasury, err := lottery.NewTreasury(creationFee, buyFee, reserve, lottery.DefaultBurnPercent, lottery.DefaultPrizePercent)
	require.NoError(t, err)

	h := &harness{
		ledger:  ledger,
		gateway: &flakyGateway{Ledger: ledger},
		bank:    bank,
		clock:   &fakeClock{now: startTime},
		entropy: &fixedEntropy{},
		sink:    &recordingSink{},
	}
	o := lottery.Options{
		Treasury: treasury,
		Custody:  custody,
		Tokens:   h.gateway,
		Native:   bank,
		Clock:    h.clock,
		Entropy:  h.entropy,
		Events:   h.sink,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.engine, err = lottery.NewEngine(o)
	require.NoError(t, err)
	return h
}

// fund 给地址铸币并授权给托管地址
func (h *harness) fund(t *testing.T, tok, owner common.Address, balance, allowance decimal.Decimal) {
	t.Helper()
	if balance.IsPositive() {
		require.NoError(t, h.ledger.Mint(tok, owner, balance))
	}
	require.NoError(t, h.ledger.Approve(tok, owner, custody, allowance))
}

func (h *harness) create(t *testing.T, tok common.Address, price decimal.Decimal, duration time.Duration) uint64 {
	t.Helper()
	id, err := h.engine.CreateLottery(context.Background(), lottery.CreateParams{
		Creator:       creator,
		TokenAddress:  tok,
		RoundDuration: duration,
		TicketPrice:   price,
		PaidFee:       creationFee,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) tokenBalance(t *testing.T, tok, owner common.Address) decimal.Decimal {
	t.Helper()
	b, err := h.ledger.BalanceOf(context.Background(), tok, owner)
	require.NoError(t, err)
	return b
}
