package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

const defaultSettlementLimit = 20

// ErrPersistenceDisabled 未配置MySQL时查询历史数据
var ErrPersistenceDisabled = errors.New("未启用持久化存储")

type LotteryService struct {
	engine *lottery.Engine
	store  EventStore
	cache  SnapshotCache
	logger *zap.Logger
}

// NewLotteryService store与cache可为nil
func NewLotteryService(engine *lottery.Engine, store EventStore, cache SnapshotCache, logger *zap.Logger) *LotteryService {
	return &LotteryService{
		engine: engine,
		store:  store,
		cache:  cache,
		logger: logger.Named("service"),
	}
}

// Restore 从MySQL加载快照重建注册表
func (s *LotteryService) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	lotteries, err := s.store.LoadLotteries(ctx)
	if err != nil {
		return 0, fmt.Errorf("加载彩票快照失败: %w", err)
	}
	if err := s.engine.Restore(ctx, lotteries); err != nil {
		return 0, fmt.Errorf("恢复注册表失败: %w", err)
	}
	return len(lotteries), nil
}

// Fees 当前创建费与购票费
func (s *LotteryService) Fees() (creation, buy decimal.Decimal) {
	t := s.engine.Treasury()
	return t.CreationFee(), t.BuyFee()
}

// ReserveFund 全局储备金地址
func (s *LotteryService) ReserveFund() common.Address {
	t := s.engine.Treasury()
	return t.ReserveFund()
}

// Custody 购票时需要授权的托管地址
func (s *LotteryService) Custody() common.Address {
	return s.engine.Custody()
}

// CreateLottery 创建彩票并返回快照
func (s *LotteryService) CreateLottery(ctx context.Context, p lottery.CreateParams) (*model.Lottery, error) {
	id, err := s.engine.CreateLottery(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.engine.GetLotteryData(id)
}

func (s *LotteryService) BuyTickets(ctx context.Context, buyer common.Address, id uint64, quantity int64, paidFee decimal.Decimal) (*model.Purchase, error) {
	return s.engine.BuyTickets(ctx, buyer, id, quantity, paidFee)
}

func (s *LotteryService) DrawWinner(ctx context.Context, id uint64) (*model.Settlement, error) {
	return s.engine.DrawWinner(ctx, id)
}

// GetLottery 缓存优先读取快照
func (s *LotteryService) GetLottery(ctx context.Context, id uint64) (*model.Lottery, error) {
	if s.cache != nil {
		l, found, err := s.cache.GetLottery(ctx, id)
		if err != nil {
			s.logger.Debug("读取彩票缓存失败", zap.Uint64("lottery_id", id), zap.Error(err))
		}
		if found && l != nil {
			return l, nil
		}
	}

	l, err := s.engine.GetLotteryData(id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetLottery(ctx, l); err != nil {
			s.logger.Debug("写入彩票缓存失败", zap.Uint64("lottery_id", id), zap.Error(err))
		}
	}
	return l, nil
}

func (s *LotteryService) GetLotteries(ids []uint64) []*model.Lottery {
	return s.engine.GetLotteries(ids)
}

func (s *LotteryService) GetParticipants(id uint64) ([]common.Address, error) {
	return s.engine.GetParticipants(id)
}

func (s *LotteryService) GetLotteryTokens() []common.Address {
	return s.engine.GetLotteryTokens()
}

func (s *LotteryService) GetLotteriesByCreator(creator common.Address) []uint64 {
	return s.engine.GetLotteriesByCreator(creator)
}

func (s *LotteryService) GetLotteriesByTokenAddress(token common.Address) []uint64 {
	return s.engine.GetLotteriesByTokenAddress(token)
}

func (s *LotteryService) GetLotteriesByTokenSymbol(symbol string) []uint64 {
	return s.engine.GetLotteriesByTokenSymbol(symbol)
}

func (s *LotteryService) GetAllLotteries() []uint64 {
	return s.engine.GetAllLotteries()
}

// Settlements 开奖历史，按轮次倒序
func (s *LotteryService) Settlements(ctx context.Context, id uint64, limit int) ([]*model.Settlement, error) {
	if _, err := s.engine.GetLotteryData(id); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	if limit <= 0 {
		limit = defaultSettlementLimit
	}

	// 缓存只保存默认条数
	cacheable := s.cache != nil && limit == defaultSettlementLimit
	if cacheable {
		settlements, found, err := s.cache.GetSettlements(ctx, id)
		if err != nil {
			s.logger.Debug("读取开奖历史缓存失败", zap.Uint64("lottery_id", id), zap.Error(err))
		}
		if found {
			return settlements, nil
		}
	}

	settlements, err := s.store.ListSettlements(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("获取彩票 %d 开奖历史失败: %w", id, err)
	}
	if cacheable {
		if err := s.cache.SetSettlements(ctx, id, settlements); err != nil {
			s.logger.Debug("写入开奖历史缓存失败", zap.Uint64("lottery_id", id), zap.Error(err))
		}
	}
	return settlements, nil
}

// Purchases 某一轮的购票记录，round为0时取当前轮
func (s *LotteryService) Purchases(ctx context.Context, id, round uint64) ([]*model.Purchase, error) {
	l, err := s.engine.GetLotteryData(id)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	if round == 0 {
		round = l.Round
	}
	purchases, err := s.store.ListPurchases(ctx, id, round)
	if err != nil {
		return nil, fmt.Errorf("获取彩票 %d 第 %d 轮购票记录失败: %w", id, round, err)
	}
	return purchases, nil
}

// SettleDue 对所有到期且有参与者的彩票开奖
func (s *LotteryService) SettleDue(ctx context.Context) (int, error) {
	settled := 0
	var errs []error
	for _, id := range s.engine.DueLotteries() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := s.engine.DrawWinner(ctx, id)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, lottery.ErrNoParticipants), errors.Is(err, lottery.ErrRoundNotEnded):
			// 扫描之后状态已变化
		default:
			errs = append(errs, fmt.Errorf("彩票 %d 开奖失败: %w", id, err))
		}
	}
	return settled, errors.Join(errs...)
}

// ProcessLotteryEvent 处理彩票事件（消费者使用）
func (s *LotteryService) ProcessLotteryEvent(ctx context.Context, event *model.LotteryEvent) error {
	if s.store != nil {
		if err := s.store.SaveEvent(ctx, event); err != nil {
			return fmt.Errorf("处理彩票事件写库失败: %w", err)
		}
	}

	refreshCache(ctx, s.cache, s.logger, event)
	if event.Settlement != nil && s.cache != nil {
		if err := s.cache.DeleteSettlementsCache(ctx, event.LotteryID); err != nil {
			s.logger.Warn("删除开奖历史缓存失败", zap.Uint64("lottery_id", event.LotteryID), zap.Error(err))
		}
	}

	s.logger.Debug("处理彩票事件成功",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Uint64("lottery_id", event.LotteryID))
	return nil
}
