package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
)

const (
	refreshScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	unlockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// RedLock 多个独立Redis节点上的Redlock
type RedLock struct {
	clients []*redis.Client
	addrs   []string
	logger  *zap.Logger
	retries int

	mu    sync.Mutex
	locks map[string]string // 锁名 -> token
}

// NewRedLock 创建Redlock客户端
func NewRedLock(logger *zap.Logger) (*RedLock, error) {
	ctx := context.Background()
	cfg := config.AppConfig.Redis
	logger = logger.Named("redlock")

	if len(cfg.LockAddresses) == 0 {
		return nil, fmt.Errorf("未配置Redis锁节点")
	}

	var clients []*redis.Client
	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}
		clients = append(clients, client)
	}

	retries := config.AppConfig.Keeper.RetryCount
	if retries <= 0 {
		retries = 1
	}
	return &RedLock{
		clients: clients,
		addrs:   cfg.LockAddresses,
		logger:  logger,
		retries: retries,
		locks:   make(map[string]string),
	}, nil
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

// AcquireLock 在多数节点上SETNX成功且剩余有效期为正才算抢到
func (r *RedLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locks[lockName]; ok {
		return false, fmt.Errorf("锁 %s 已被当前实例持有", lockName)
	}

	token := uuid.NewString()
	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(ctx, lockName, token, ttl).Result()
			if err != nil {
				r.logger.Warn("节点获取锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
				continue
			}
			if ok {
				success++
			}
		}

		validity := ttl - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			r.locks[lockName] = token
			r.logger.Debug("获取锁成功", zap.String("lock", lockName), zap.Duration("validity", validity))
			return true, nil
		}

		r.unlockAll(ctx, lockName, token)

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false, nil
}

// RefreshLock 只续期自己持有的锁
func (r *RedLock) RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return false, fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	success := 0
	for i, client := range r.clients {
		n, err := client.Eval(ctx, refreshScript, []string{lockName}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			r.logger.Warn("节点刷新锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
			continue
		}
		if n == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}
	delete(r.locks, lockName)
	return false, nil
}

func (r *RedLock) ReleaseLock(ctx context.Context, lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.locks[lockName]
	if !ok {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}
	r.unlockAll(ctx, lockName, token)
	delete(r.locks, lockName)
	return nil
}

// unlockAll 在所有节点上释放自己的token
func (r *RedLock) unlockAll(ctx context.Context, lockName, token string) {
	for i, client := range r.clients {
		if err := client.Eval(ctx, unlockScript, []string{lockName}, token).Err(); err != nil {
			r.logger.Warn("节点释放锁失败", zap.String("node", r.addrs[i]), zap.String("lock", lockName), zap.Error(err))
		}
	}
}

func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.locks {
		r.unlockAll(context.Background(), name, token)
	}
	r.locks = make(map[string]string)
}

func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for i, client := range r.clients {
		if err := client.Close(); err != nil {
			r.logger.Warn("关闭Redis客户端失败", zap.String("node", r.addrs[i]), zap.Error(err))
		}
	}
	return nil
}
