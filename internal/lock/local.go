package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLock 进程内锁，单实例部署时使用
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // 锁名 -> 过期时间
	now   func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *LocalLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expires, ok := l.locks[lockName]; ok && l.now().Before(expires) {
		return false, nil
	}
	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expires, ok := l.locks[lockName]
	if !ok {
		return false, fmt.Errorf("未持有锁 %s", lockName)
	}
	if !l.now().Before(expires) {
		delete(l.locks, lockName)
		return false, nil
	}
	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) ReleaseLock(ctx context.Context, lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
