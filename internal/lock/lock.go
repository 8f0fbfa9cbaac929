package lock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Lock 分布式锁接口，keeper用它选出唯一执行开奖的实例
type Lock interface {
	// AcquireLock 获取锁，bool表示是否抢到
	AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// RefreshLock 续期，返回false表示锁已丢失
	RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock 释放锁
	ReleaseLock(ctx context.Context, lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	Close() error
}

const (
	DriverLocal = "local"
	DriverEtcd  = "etcd"
	DriverRedis = "redis"
)

// New 按驱动名创建锁
func New(driver string, logger *zap.Logger) (Lock, error) {
	switch driver {
	case "", DriverLocal:
		return NewLocalLock(), nil
	case DriverEtcd:
		return NewETCDLock(logger)
	case DriverRedis:
		return NewRedLock(logger)
	default:
		return nil, fmt.Errorf("未知的锁驱动: %s", driver)
	}
}
