package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"ShuttleSignup/pkg/breaker"
	"ShuttleSignup/storage/redis"
)

const (
	// 会话级：同一浏览器会话内恢复，生命周期较短
	SessionTierPrefix = "flow:session"
	// 共享级：同一设备跨会话恢复
	DeviceTierPrefix = "flow:device"
)

// Tier 基于 Redis 的流程状态存储层，实现 flowstore.KV
// Redis 自身的过期时间只是兜底清理，24 小时有效期由 flowstore 按 lastSavedAt 判断
type Tier struct {
	client    ri.Cmdable
	prefix    string
	keyPrefix string
	ttl       time.Duration
	breaker   *breaker.CircuitBreaker
}

// NewTier 创建存储层，prefix 为全局键前缀，keyPrefix 区分层级与设备
func NewTier(client ri.Cmdable, prefix, keyPrefix string, ttl time.Duration) *Tier {
	return &Tier{
		client:    client,
		prefix:    prefix,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// WithBreaker Redis 连续失败时快速失败，避免拖慢每一次保存
func (t *Tier) WithBreaker(cb *breaker.CircuitBreaker) *Tier {
	t.breaker = cb
	return t
}

// SessionTier 会话级存储
func SessionTier(client ri.Cmdable, prefix string, ttl time.Duration) *Tier {
	return NewTier(client, prefix, SessionTierPrefix, ttl)
}

// DeviceTier 设备级存储，每个设备一个命名空间，固定键落在其中
func DeviceTier(client ri.Cmdable, prefix, deviceID string, ttl time.Duration) *Tier {
	return NewTier(client, prefix, redis.KeyWithPrefix(DeviceTierPrefix, deviceID), ttl)
}

func (t *Tier) key(key string) string {
	return redis.KeyWithPrefix(t.prefix, t.keyPrefix, key)
}

func (t *Tier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := t.call(ctx, func(ctx context.Context) error {
		var err error
		data, err = t.client.Get(ctx, t.key(key)).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, ri.Nil) {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("failed to get flow state: %w", err)
	}
	return data, true, nil
}

func (t *Tier) Set(ctx context.Context, key string, value []byte) error {
	err := t.call(ctx, func(ctx context.Context) error {
		return t.client.Set(ctx, t.key(key), value, t.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set flow state: %w", err)
	}
	return nil
}

func (t *Tier) Remove(ctx context.Context, key string) error {
	err := t.call(ctx, func(ctx context.Context) error {
		return t.client.Del(ctx, t.key(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow state: %w", err)
	}
	return nil
}

func (t *Tier) call(ctx context.Context, op func(context.Context) error) error {
	if t.breaker == nil {
		return op(ctx)
	}
	return t.breaker.Call(ctx, op, func(err error) bool {
		return errors.Is(err, ri.Nil)
	})
}

// FlowBreaker 流程状态存储共用的熔断器：连续失败 5 次后熔断，30 秒后尝试恢复
var FlowBreaker = breaker.New("flow_state_cache", 5, 30*time.Second)
