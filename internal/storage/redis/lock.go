package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/mailbot/internal/lock"
)

// unlockScript 只释放自己持有的锁
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// ErrLockTimeout 等待锁超时
var ErrLockTimeout = errors.New("timed out waiting for user lock")

// Locker 基于 SET NX PX 的分布式用户锁，用于多实例部署。
type Locker struct {
	client  *Client
	prefix  string
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
	log     *zap.Logger
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker 创建分布式锁；ttl 是持有者崩溃时锁的最长存活时间
func NewLocker(client *Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		client:  client,
		prefix:  "mailbot:lock:user:",
		ttl:     ttl,
		retry:   25 * time.Millisecond,
		maxWait: ttl,
		log:     client.log.Named("lock"),
	}
}

// WithPrefix 返回使用独立键前缀的锁，共享连接与租约配置
func (l *Locker) WithPrefix(prefix string) *Locker {
	clone := *l
	clone.prefix = prefix
	return &clone
}

// Lock 获取用户锁，直到成功、ctx 结束或等待超过 ttl
func (l *Locker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", l.prefix, userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.maxWait)

	for {
		ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire user lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// 释放不受调用方 ctx 影响
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.client.rdb.Eval(releaseCtx, unlockScript, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release user lock", zap.Int64("user_id", userID), zap.Error(err))
		}
	}, nil
}
