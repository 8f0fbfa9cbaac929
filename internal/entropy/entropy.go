package entropy

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
)

// CryptoSource 操作系统安全随机数
type CryptoSource struct{}

func (CryptoSource) Entropy(ctx context.Context, seed lottery.DrawSeed) ([32]byte, error) {
	var out [32]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, fmt.Errorf("读取系统随机数失败: %w", err)
	}
	return out, nil
}

// SeedSource 确定性随机源：keccak256(seed || lotteryID || round || roundEndTime || tickets)。
// 相同输入总是得到相同结果，用于回放与测试。
type SeedSource struct {
	Seed []byte
}

func (s SeedSource) Entropy(ctx context.Context, seed lottery.DrawSeed) ([32]byte, error) {
	buf := make([]byte, 0, len(s.Seed)+32)
	buf = append(buf, s.Seed...)
	buf = binary.BigEndian.AppendUint64(buf, seed.LotteryID)
	buf = binary.BigEndian.AppendUint64(buf, seed.Round)
	buf = binary.BigEndian.AppendUint64(buf, uint64(seed.RoundEndTime.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(seed.Tickets))
	return crypto.Keccak256Hash(buf), nil
}

// New 按配置创建随机源
func New(cfg config.LotteryConfig) (lottery.EntropySource, error) {
	switch cfg.Entropy {
	case "", "crypto":
		return CryptoSource{}, nil
	case "seed":
		if cfg.EntropySeed == "" {
			return nil, fmt.Errorf("seed随机源需要配置 lottery.entropy_seed")
		}
		return SeedSource{Seed: []byte(cfg.EntropySeed)}, nil
	default:
		return nil, fmt.Errorf("未知的随机源类型: %s", cfg.Entropy)
	}
}
