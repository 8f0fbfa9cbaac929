package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

// EventProducer 事件发送端（Kafka）
type EventProducer interface {
	SendLotteryEvent(ctx context.Context, event *model.LotteryEvent) error
}

// EventStore 事件持久化与开奖历史查询（MySQL）
type EventStore interface {
	SaveEvent(ctx context.Context, event *model.LotteryEvent) error
	LoadLotteries(ctx context.Context) ([]*model.Lottery, error)
	ListSettlements(ctx context.Context, lotteryID uint64, limit int) ([]*model.Settlement, error)
	ListPurchases(ctx context.Context, lotteryID, round uint64) ([]*model.Purchase, error)
}

// SnapshotCache 快照与开奖历史缓存（Redis）
type SnapshotCache interface {
	GetLottery(ctx context.Context, id uint64) (*model.Lottery, bool, error)
	SetLottery(ctx context.Context, l *model.Lottery) error
	DeleteLotteryCache(ctx context.Context, id uint64) error
	GetSettlements(ctx context.Context, id uint64) ([]*model.Settlement, bool, error)
	SetSettlements(ctx context.Context, id uint64, settlements []*model.Settlement) error
	DeleteSettlementsCache(ctx context.Context, id uint64) error
}

// EventPublisher 引擎的事件出口。
// 先刷新缓存快照，再发往Kafka；Kafka不可用时同步写MySQL。
type EventPublisher struct {
	producer EventProducer
	store    EventStore
	cache    SnapshotCache
	logger   *zap.Logger
}

var _ lottery.EventSink = (*EventPublisher)(nil)

// NewEventPublisher producer/store/cache均可为nil
func NewEventPublisher(producer EventProducer, store EventStore, cache SnapshotCache, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		store:    store,
		cache:    cache,
		logger:   logger.Named("publisher"),
	}
}

func (p *EventPublisher) Publish(ctx context.Context, event *model.LotteryEvent) error {
	refreshCache(ctx, p.cache, p.logger, event)

	if p.producer != nil {
		err := p.producer.SendLotteryEvent(ctx, event)
		if err == nil {
			return nil
		}
		p.logger.Warn("发送彩票事件到Kafka失败，改为同步写库",
			zap.String("event_id", event.ID),
			zap.Uint64("lottery_id", event.LotteryID),
			zap.Error(err))
	}

	if p.store == nil {
		return nil
	}
	if err := p.store.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("同步保存彩票事件失败: %w", err)
	}
	if event.Settlement != nil && p.cache != nil {
		if err := p.cache.DeleteSettlementsCache(ctx, event.LotteryID); err != nil {
			p.logger.Warn("删除开奖历史缓存失败", zap.Uint64("lottery_id", event.LotteryID), zap.Error(err))
		}
	}
	return nil
}

// refreshCache 用事件快照覆盖缓存，写失败时删掉缓存避免读到旧数据
func refreshCache(ctx context.Context, cache SnapshotCache, logger *zap.Logger, event *model.LotteryEvent) {
	if cache == nil || event.Lottery == nil {
		return
	}
	if err := cache.SetLottery(ctx, event.Lottery); err != nil {
		logger.Warn("刷新彩票缓存失败", zap.Uint64("lottery_id", event.LotteryID), zap.Error(err))
		if err := cache.DeleteLotteryCache(ctx, event.LotteryID); err != nil {
			logger.Error("删除彩票缓存失败", zap.Uint64("lottery_id", event.LotteryID), zap.Error(err))
		}
	}
}
