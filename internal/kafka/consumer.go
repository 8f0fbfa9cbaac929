package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

const defaultWorkers = 4

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageHandler 处理单条事件，返回错误时不提交位移，消息会被重新投递
type MessageHandler func(ctx context.Context, event *model.LotteryEvent) error

type Consumer struct {
	readers []messageReader
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	retryDelay time.Duration
}

// NewConsumer 以消费者组模式创建workers个reader，分区由组协调分配
func NewConsumer(workers int, logger *zap.Logger) (*Consumer, error) {
	cfg := config.AppConfig.Kafka
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka broker")
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	readers := make([]messageReader, 0, workers)
	for i := 0; i < workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}))
	}

	logger.Info("Kafka消费者已创建",
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
		zap.Int("workers", workers))
	return newConsumer(readers, logger), nil
}

func newConsumer(readers []messageReader, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		readers:    readers,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		retryDelay: time.Second,
	}
}

// StartConsuming 每个reader一个goroutine
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r messageReader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}
	c.logger.Info("已启动Kafka消费者工作线程", zap.Int("workers", len(c.readers)))
}

func (c *Consumer) consumeMessages(workerID int, reader messageReader, handler MessageHandler) {
	log := c.logger.With(zap.Int("worker", workerID))

	for {
		m, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
				log.Debug("消费者工作线程退出")
				return
			}
			log.Warn("读取消息失败", zap.Error(err))
			if !c.sleep() {
				return
			}
			continue
		}

		event, err := decodeEvent(m.Value)
		if err != nil {
			// 无法解析的消息直接跳过
			log.Error("解析消息失败", zap.Int64("offset", m.Offset), zap.Error(err))
			c.commit(log, reader, m)
			continue
		}

		for {
			err := handler(c.ctx, event)
			if err == nil {
				break
			}
			log.Warn("处理彩票事件失败，稍后重试",
				zap.String("event_id", event.ID),
				zap.Uint64("lottery_id", event.LotteryID),
				zap.Error(err))
			if !c.sleep() {
				return
			}
		}
		c.commit(log, reader, m)
	}
}

func (c *Consumer) commit(log *zap.Logger, reader messageReader, m kafka.Message) {
	if err := reader.CommitMessages(c.ctx, m); err != nil && c.ctx.Err() == nil {
		log.Warn("提交位移失败", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

// sleep 等待重试间隔，消费者停止时返回false
func (c *Consumer) sleep() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func decodeEvent(data []byte) (*model.LotteryEvent, error) {
	var event model.LotteryEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.ID == "" || event.Lottery == nil {
		return nil, fmt.Errorf("事件缺少ID或彩票快照")
	}
	return &event, nil
}

// Stop 停止消费并关闭reader
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var errs []error
	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭消费者 #%d 失败: %w", i, err))
		}
	}
	c.logger.Info("所有Kafka消费者工作线程已停止")
	return errors.Join(errs...)
}
