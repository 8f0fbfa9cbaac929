package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/model"
)

const (
	// Redis键前缀
	LotteryKey     = "lottery:snapshot:"
	SettlementsKey = "lottery:settlements:"

	// 比较版本后写入，规则同model.Lottery.Supersedes：
	// 代次不同直接覆盖；同一代次时缓存中的轮次和参与者数不大于新快照才覆盖，
	// 避免乱序到达的旧事件把新快照冲掉
	SetIfNewerScript = `
		local cur = redis.call('HMGET', KEYS[1], 'round', 'tickets', 'gen')
		local round = tonumber(cur[1])
		local tickets = tonumber(cur[2])
		local newRound = tonumber(ARGV[1])
		local newTickets = tonumber(ARGV[2])
		if round and cur[3] == ARGV[3] and (round > newRound or (round == newRound and tickets > newTickets)) then
			return 0
		end
		redis.call('HSET', KEYS[1], 'round', newRound, 'tickets', newTickets, 'gen', ARGV[3], 'data', ARGV[4])
		redis.call('PEXPIRE', KEYS[1], ARGV[5])
		return 1
	`
)

type RedisRepository struct {
	client       *redis.Client
	ttl          time.Duration
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisRepository(ctx context.Context) (*RedisRepository, error) {
	cfg := config.AppConfig.Redis

	// 创建Redis客户端（普通客户端，用于数据存储）
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	repo := &RedisRepository{
		client:       client,
		ttl:          ttl,
		scriptHashes: make(map[string]string),
	}

	if err := repo.preloadScripts(ctx); err != nil {
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return repo, nil
}

// preloadScripts 预加载所有Lua脚本
func (r *RedisRepository) preloadScripts(ctx context.Context) error {
	sha1, err := r.client.ScriptLoad(ctx, SetIfNewerScript).Result()
	if err != nil {
		return fmt.Errorf("加载快照写入脚本失败: %w", err)
	}
	r.scriptHashes["setIfNewer"] = sha1
	return nil
}

func lotteryKey(id uint64) string {
	return LotteryKey + strconv.FormatUint(id, 10)
}

func settlementsKey(id uint64) string {
	return SettlementsKey + strconv.FormatUint(id, 10)
}

// GetLottery 从缓存获取彩票快照，未命中时ok为false
func (r *RedisRepository) GetLottery(ctx context.Context, id uint64) (*model.Lottery, bool, error) {
	data, err := r.client.HGet(ctx, lotteryKey(id), "data").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取彩票缓存失败: %w", err)
	}

	var l model.Lottery
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, false, fmt.Errorf("解析彩票缓存失败: %w", err)
	}
	return &l, true, nil
}

// SetLottery 写入彩票快照缓存，旧快照不会覆盖新快照
func (r *RedisRepository) SetLottery(ctx context.Context, l *model.Lottery) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("序列化彩票快照失败: %w", err)
	}

	keys := []string{lotteryKey(l.ID)}
	args := []interface{}{l.Round, len(l.Participants), l.Generation(), data, r.ttl.Milliseconds()}

	sha1, ok := r.scriptHashes["setIfNewer"]
	if !ok {
		return fmt.Errorf("脚本未预加载")
	}
	err = r.client.EvalSha(ctx, sha1, keys, args...).Err()
	if err != nil && isNoScript(err) {
		// 脚本缓存被清空，直接用EVAL执行一次
		err = r.client.Eval(ctx, SetIfNewerScript, keys, args...).Err()
	}
	if err != nil {
		return fmt.Errorf("设置彩票缓存失败: %w", err)
	}
	return nil
}

func isNoScript(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}

// DeleteLotteryCache 删除彩票快照缓存
func (r *RedisRepository) DeleteLotteryCache(ctx context.Context, id uint64) error {
	if err := r.client.Del(ctx, lotteryKey(id)).Err(); err != nil {
		return fmt.Errorf("删除彩票缓存失败: %w", err)
	}
	return nil
}

// GetSettlements 从缓存获取开奖历史
func (r *RedisRepository) GetSettlements(ctx context.Context, id uint64) ([]*model.Settlement, bool, error) {
	data, err := r.client.Get(ctx, settlementsKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("获取开奖历史缓存失败: %w", err)
	}

	var settlements []*model.Settlement
	if err := json.Unmarshal([]byte(data), &settlements); err != nil {
		return nil, false, fmt.Errorf("解析开奖历史缓存失败: %w", err)
	}
	return settlements, true, nil
}

func (r *RedisRepository) SetSettlements(ctx context.Context, id uint64, settlements []*model.Settlement) error {
	data, err := json.Marshal(settlements)
	if err != nil {
		return fmt.Errorf("序列化开奖历史失败: %w", err)
	}
	if err := r.client.Set(ctx, settlementsKey(id), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("设置开奖历史缓存失败: %w", err)
	}
	return nil
}

func (r *RedisRepository) DeleteSettlementsCache(ctx context.Context, id uint64) error {
	if err := r.client.Del(ctx, settlementsKey(id)).Err(); err != nil {
		return fmt.Errorf("删除开奖历史缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
