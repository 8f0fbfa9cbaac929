package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	logger *zap.Logger
}

func NewProducer(logger *zap.Logger) (*Producer, error) {
	cfg := config.AppConfig.Kafka
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka broker")
	}

	// 按Key哈希分区，同一彩票的事件进入同一分区，保证顺序
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	logger.Info("Kafka生产者已创建", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newProducer(writer, logger), nil
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger}
}

// eventKey 分区键：彩票ID
func eventKey(event *model.LotteryEvent) []byte {
	return []byte(strconv.FormatUint(event.LotteryID, 10))
}

// SendLotteryEvent 发送彩票事件
func (p *Producer) SendLotteryEvent(ctx context.Context, event *model.LotteryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化彩票事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   eventKey(event),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送彩票事件失败: %w", err)
	}

	p.logger.Debug("已发送彩票事件",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Uint64("lottery_id", event.LotteryID))
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
