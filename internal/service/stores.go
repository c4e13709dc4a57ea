package service

import (
	"time"

	ri "github.com/redis/go-redis/v9"

	"ShuttleSignup/internal/cache"
	"ShuttleSignup/internal/flow"
	"ShuttleSignup/internal/flowstore"
)

// RedisStores 会话级和设备级两层都放在 Redis，共用一个熔断器
func RedisStores(client ri.Cmdable, prefix string, sessionTTL, ttl time.Duration) StoreFactory {
	return func(deviceID string) flow.Persister {
		session := cache.SessionTier(client, prefix, sessionTTL).WithBreaker(cache.FlowBreaker)
		shared := cache.DeviceTier(client, prefix, deviceID, ttl).WithBreaker(cache.FlowBreaker)
		return flowstore.New(session, shared, flowstore.WithTTL(ttl))
	}
}
