package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	ri "github.com/redis/go-redis/v9"

	"ShuttleSignup/storage/redis"
)

// 分布式锁，通过 SetNX 实现，跨实例串行化同一报名者的换乘
const lockPrefix = "lock"

// 只删除自己持有的锁，避免锁过期后误删别人的
var unlockScript = ri.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client ri.Scripter
	setter ri.Cmdable
	prefix string
}

// NewLocker client 需要同时支持普通命令与脚本
func NewLocker(client ri.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, setter: client, prefix: prefix}
}

// TryLock 获取锁，成功时返回释放函数
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := redis.KeyWithPrefix(l.prefix, lockPrefix, key)
	token := uuid.NewString()

	ok, err := l.setter.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.client, []string{fullKey}, token).Err()
	}
	return unlock, true, nil
}
