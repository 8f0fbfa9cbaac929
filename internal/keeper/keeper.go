package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/tokenlottery/config"
	"github.com/lvdashuaibi/tokenlottery/internal/lock"
)

const LeaderLockName = "lottery:keeper:leader"

// Settler 结算所有到期的彩票，返回成功开奖的数量
type Settler interface {
	SettleDue(ctx context.Context) (int, error)
}

// Keeper 定时开奖。多实例部署时只有抢到锁的实例执行本次结算。
type Keeper struct {
	settler Settler
	lock    lock.Lock
	lockTTL time.Duration
	logger  *zap.Logger

	cron *cron.Cron
}

func New(cfg config.KeeperConfig, settler Settler, l lock.Lock, logger *zap.Logger) (*Keeper, error) {
	logger = logger.Named("keeper")
	ttl := cfg.LockTimeout
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	k := &Keeper{
		settler: settler,
		lock:    l,
		lockTTL: ttl,
		logger:  logger,
		cron:    c,
	}
	if _, err := c.AddFunc(cfg.Schedule, func() { k.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("解析开奖调度表达式 %q 失败: %w", cfg.Schedule, err)
	}
	return k, nil
}

// Start 启动调度
func (k *Keeper) Start() {
	k.cron.Start()
	k.logger.Info("开奖调度已启动")
}

// Stop 停止调度并等待正在执行的任务结束
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info("开奖调度已停止")
}

// RunOnce 抢锁并结算一次，没抢到锁时返回false
func (k *Keeper) RunOnce(ctx context.Context) bool {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, k.lockTTL)
	acquired, err := k.lock.AcquireLock(acquireCtx, LeaderLockName, k.lockTTL)
	cancelAcquire()
	if err != nil {
		k.logger.Warn("获取开奖锁失败", zap.Error(err))
		return false
	}
	if !acquired {
		k.logger.Debug("开奖锁被其他实例持有，跳过本次结算")
		return false
	}

	// 结算期间定期续期，锁丢失时取消本次结算
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.keepAlive(ctx, cancel)
	}()
	defer func() {
		cancel()
		wg.Wait()
		if err := k.lock.ReleaseLock(context.Background(), LeaderLockName); err != nil {
			k.logger.Warn("释放开奖锁失败", zap.Error(err))
		}
	}()

	settled, err := k.settler.SettleDue(ctx)
	if err != nil {
		k.logger.Error("结算到期彩票失败", zap.Int("settled", settled), zap.Error(err))
		return true
	}
	if settled > 0 {
		k.logger.Info("结算到期彩票完成", zap.Int("settled", settled))
	}
	return true
}

func (k *Keeper) keepAlive(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(k.lockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := k.lock.RefreshLock(ctx, LeaderLockName, k.lockTTL)
			if ctx.Err() != nil {
				return
			}
			if err != nil || !held {
				k.logger.Warn("开奖锁续期失败，中止本次结算", zap.Bool("held", held), zap.Error(err))
				cancel()
				return
			}
		}
	}
}
