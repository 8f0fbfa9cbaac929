package lottery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// DefaultMaxTicketsPerRound 每轮参与者上限的默认值
const DefaultMaxTicketsPerRound int64 = 100_000

// Options 引擎依赖
type Options struct {
	Treasury *Treasury
	// Custody 系统托管地址，即购票授权的spender
	Custody common.Address
	Tokens  TokenGateway
	Native  NativePayer
	Clock   Clock
	Entropy EntropySource
	Events  EventSink
	Logger  *zap.Logger

	// MaxTicketsPerRound 单轮票数上限，<=0时取默认值
	MaxTicketsPerRound int64
}

// Engine 彩票注册表、购票与开奖引擎。
// 所有写操作持有同一把写锁串行执行，读操作返回拷贝。
type Engine struct {
	mu sync.RWMutex

	treasury *Treasury
	custody  common.Address
	tokens   TokenGateway
	native   NativePayer
	clock    Clock
	entropy  EntropySource
	events   EventSink
	logger   *zap.Logger

	maxTickets int64

	nextID         uint64
	byID           map[uint64]*model.Lottery
	byCreator      map[common.Address][]uint64
	byTokenAddress map[common.Address][]uint64
	byTokenSymbol  map[string][]uint64
	allIDs         []uint64
	distinctTokens []common.Address
	tokenSet       map[common.Address]struct{}
}

// CreateParams 创建彩票参数
type CreateParams struct {
	Creator         common.Address
	TokenAddress    common.Address
	RoundDuration   time.Duration
	TicketPrice     decimal.Decimal
	ReserveReceiver common.Address
	PaidFee         decimal.Decimal
}

// NewEngine 创建引擎
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Treasury == nil:
		return nil, errors.New("缺少金库配置")
	case opts.Tokens == nil:
		return nil, errors.New("缺少代币网关")
	case opts.Native == nil:
		return nil, errors.New("缺少原生币转账接口")
	case opts.Entropy == nil:
		return nil, errors.New("缺少随机源")
	case opts.Custody == (common.Address{}):
		return nil, errors.New("缺少托管地址")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxTicketsPerRound <= 0 {
		opts.MaxTicketsPerRound = DefaultMaxTicketsPerRound
	}

	e := &Engine{
		treasury: opts.Treasury,
		custody:  opts.Custody,
		tokens:   opts.Tokens,
		native:   opts.Native,
		clock:    opts.Clock,
		entropy:  opts.Entropy,
		events:   opts.Events,
		logger:   opts.Logger,

		maxTickets: opts.MaxTicketsPerRound,
	}
	e.reset()
	return e, nil
}

func (e *Engine) reset() {
	e.nextID = 1
	e.byID = make(map[uint64]*model.Lottery)
	e.byCreator = make(map[common.Address][]uint64)
	e.byTokenAddress = make(map[common.Address][]uint64)
	e.byTokenSymbol = make(map[string][]uint64)
	e.allIDs = nil
	e.distinctTokens = nil
	e.tokenSet = make(map[common.Address]struct{})
}

// Custody 托管地址
func (e *Engine) Custody() common.Address {
	return e.custody
}

// Treasury 返回当前金库配置的拷贝
func (e *Engine) Treasury() Treasury {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.treasury
}

// SetFees 修改创建费与购票费
func (e *Engine) SetFees(creationFee, buyFee decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasury.setFees(creationFee, buyFee)
}

// SetReserveFund 修改全局储备金地址
func (e *Engine) SetReserveFund(addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.treasury.setReserveFund(addr)
}

// CreateLottery 创建彩票，返回新分配的ID
func (e *Engine) CreateLottery(ctx context.Context, p CreateParams) (uint64, error) {
	if p.RoundDuration <= 0 || !validAmount(p.TicketPrice) {
		return 0, fmt.Errorf("%w: 轮次时长与票价必须为正", ErrInvalidParameter)
	}
	if p.TokenAddress == (common.Address{}) {
		return 0, fmt.Errorf("%w: 代币地址为空", ErrInvalidParameter)
	}
	if p.Creator == (common.Address{}) {
		return 0, fmt.Errorf("%w: 创建者地址为空", ErrInvalidParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !p.PaidFee.Equal(e.treasury.creationFee) {
		return 0, fmt.Errorf("%w: 需要 %s，实际 %s", ErrInsufficientFee, e.treasury.creationFee, p.PaidFee)
	}

	symbol, err := e.tokens.Symbol(ctx, p.TokenAddress)
	if err != nil {
		return 0, fmt.Errorf("查询代币 %s 符号失败: %w", p.TokenAddress.Hex(), err)
	}

	if err := e.payFee(ctx, p.Creator, p.PaidFee); err != nil {
		return 0, err
	}

	now := e.clock.Now()
	id := e.nextID
	l := &model.Lottery{
		ID:              id,
		Creator:         p.Creator,
		TokenAddress:    p.TokenAddress,
		TokenSymbol:     symbol,
		TicketPrice:     p.TicketPrice,
		RoundDuration:   p.RoundDuration,
		RoundEndTime:    now.Add(p.RoundDuration),
		Round:           1,
		Participants:    []common.Address{},
		PrizePool:       decimal.Zero,
		TotalBurned:     decimal.Zero,
		BuyFeePool:      decimal.Zero,
		ReserveReceiver: p.ReserveReceiver,
		CreatedAt:       now,
	}
	e.insert(l)

	e.logger.Info("彩票创建成功",
		zap.Uint64("lottery_id", id),
		zap.String("creator", p.Creator.Hex()),
		zap.String("token", p.TokenAddress.Hex()),
		zap.String("symbol", symbol))

	e.emit(ctx, &model.LotteryEvent{
		Type:      model.EventLotteryCreated,
		LotteryID: id,
		Lottery:   l.Clone(),
	})
	return id, nil
}

// insert 写入记录并更新全部索引，调用方持有写锁
func (e *Engine) insert(l *model.Lottery) {
	e.byID[l.ID] = l
	e.byCreator[l.Creator] = append(e.byCreator[l.Creator], l.ID)
	e.byTokenAddress[l.TokenAddress] = append(e.byTokenAddress[l.TokenAddress], l.ID)
	e.byTokenSymbol[l.TokenSymbol] = append(e.byTokenSymbol[l.TokenSymbol], l.ID)
	e.allIDs = append(e.allIDs, l.ID)
	if _, ok := e.tokenSet[l.TokenAddress]; !ok {
		e.tokenSet[l.TokenAddress] = struct{}{}
		e.distinctTokens = append(e.distinctTokens, l.TokenAddress)
	}
	if l.ID >= e.nextID {
		e.nextID = l.ID + 1
	}
}

// Restore 用持久化快照重建注册表
func (e *Engine) Restore(ctx context.Context, lotteries []*model.Lottery) error {
	sorted := make([]*model.Lottery, 0, len(lotteries))
	seen := make(map[uint64]struct{}, len(lotteries))
	for _, l := range lotteries {
		if l == nil || l.ID == 0 {
			return fmt.Errorf("%w: 快照ID无效", ErrInvalidParameter)
		}
		if _, ok := seen[l.ID]; ok {
			return fmt.Errorf("%w: 快照ID重复: %d", ErrInvalidParameter, l.ID)
		}
		seen[l.ID] = struct{}{}
		sorted = append(sorted, l.Clone())
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.reconcileCustody(ctx, sorted); err != nil {
		return err
	}
	e.reset()
	for _, l := range sorted {
		if l.Participants == nil {
			l.Participants = []common.Address{}
		}
		e.insert(l)
	}
	e.logger.Info("注册表已从快照恢复", zap.Int("lotteries", len(sorted)), zap.Uint64("next_id", e.nextID))
	return nil
}

// reconcileCustody 托管余额不足以支付恢复出的奖池时按差额补足
func (e *Engine) reconcileCustody(ctx context.Context, lotteries []*model.Lottery) error {
	r, ok := e.tokens.(CustodyReconciler)
	if !ok {
		return nil
	}
	required := make(map[common.Address]decimal.Decimal)
	var order []common.Address
	for _, l := range lotteries {
		if !l.PrizePool.IsPositive() {
			continue
		}
		if _, seen := required[l.TokenAddress]; !seen {
			order = append(order, l.TokenAddress)
			required[l.TokenAddress] = decimal.Zero
		}
		required[l.TokenAddress] = required[l.TokenAddress].Add(l.PrizePool)
	}
	for _, tok := range order {
		minted, err := r.EnsureBalance(ctx, tok, e.custody, required[tok])
		if err != nil {
			return fmt.Errorf("补足代币 %s 托管余额失败: %w", tok.Hex(), err)
		}
		if minted.IsPositive() {
			e.logger.Warn("托管余额低于奖池之和，已按快照补足",
				zap.String("token", tok.Hex()),
				zap.String("prize_pools", required[tok].String()),
				zap.String("minted", minted.String()))
		}
	}
	return nil
}

// GetLotteryData 获取彩票快照
func (e *Engine) GetLotteryData(id uint64) (*model.Lottery, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	l, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return l.Clone(), nil
}

// GetLotteries 批量获取快照，跳过不存在的ID
func (e *Engine) GetLotteries(ids []uint64) []*model.Lottery {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*model.Lottery, 0, len(ids))
	for _, id := range ids {
		if l, ok := e.byID[id]; ok {
			result = append(result, l.Clone())
		}
	}
	return result
}

// GetParticipants 获取当前轮参与者列表
func (e *Engine) GetParticipants(id uint64) ([]common.Address, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	l, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return append([]common.Address{}, l.Participants...), nil
}

// GetLotteryTokens 获取所有出现过的代币地址（去重，按首次出现顺序）
func (e *Engine) GetLotteryTokens() []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]common.Address{}, e.distinctTokens...)
}

func (e *Engine) GetLotteriesByCreator(creator common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint64{}, e.byCreator[creator]...)
}

func (e *Engine) GetLotteriesByTokenAddress(token common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint64{}, e.byTokenAddress[token]...)
}

func (e *Engine) GetLotteriesByTokenSymbol(symbol string) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint64{}, e.byTokenSymbol[symbol]...)
}

func (e *Engine) GetAllLotteries() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint64{}, e.allIDs...)
}

// DueLotteries 返回已到期且有参与者、可以开奖的彩票ID
func (e *Engine) DueLotteries() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.clock.Now()
	var due []uint64
	for _, id := range e.allIDs {
		l := e.byID[id]
		if !now.Before(l.RoundEndTime) && len(l.Participants) > 0 {
			due = append(due, id)
		}
	}
	return due
}

// payFee 原生币手续费转入储备金，零手续费不产生转账
func (e *Engine) payFee(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.native.Pay(ctx, from, e.treasury.reserveFund, amount); err != nil {
		return fmt.Errorf("%w: 手续费转入储备金失败: %w", ErrTransferFailed, err)
	}
	return nil
}

// emit 状态提交后发布事件，发布失败只记录日志
func (e *Engine) emit(ctx context.Context, event *model.LotteryEvent) {
	if e.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = e.clock.Now()
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Error("发布彩票事件失败",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Uint64("lottery_id", event.LotteryID),
			zap.Error(err))
	}
}
