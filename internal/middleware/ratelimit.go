package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	ri "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/response"
	"ShuttleSignup/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口（秒）
	Window int
	// 时间窗口内最大请求数
	MaxRequests int
	// 限流键前缀
	KeyPrefix string
	// 是否按设备限流（需要向导会话）
	ByDevice bool
	// 是否按IP限流
	ByIP bool
	// 阻塞时长（秒），超过限制后禁止访问的时间
	BlockDuration int
}

// ReserveRateLimitConfig 占座、换乘接口的限流，防止脚本反复抢座
func ReserveRateLimitConfig(maxRequests, window int) RateLimitConfig {
	return RateLimitConfig{
		Window:        window,
		MaxRequests:   maxRequests,
		KeyPrefix:     "seat:reserve:rate",
		ByDevice:      true,
		ByIP:          true,
		BlockDuration: 120,
	}
}

// RateLimiter 基于 Redis 有序集合的滑动窗口限流器
type RateLimiter struct {
	client ri.Cmdable
	prefix string
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client ri.Cmdable, prefix string, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		config: config,
		now:    time.Now,
	}
}

// getKey 生成限流键
func (rl *RateLimiter) getKey(c *app.RequestContext) string {
	var identifier string

	if rl.config.ByDevice {
		if deviceID := c.GetString(deviceIDKey); deviceID != "" {
			identifier = fmt.Sprintf("device:%s", deviceID)
		}
	}

	if identifier == "" && rl.config.ByIP {
		identifier = fmt.Sprintf("ip:%s", c.ClientIP())
	}

	return redis.KeyWithPrefix(rl.prefix, rl.config.KeyPrefix, identifier)
}

func (rl *RateLimiter) blockKey(c *app.RequestContext) string {
	return rl.getKey(c) + ":block"
}

// Allow 检查是否允许请求，使用滑动窗口算法
func (rl *RateLimiter) Allow(ctx context.Context, c *app.RequestContext) (bool, int, error) {
	key := rl.getKey(c)
	now := rl.now()
	windowStart := now.Add(-time.Duration(rl.config.Window) * time.Second)

	pipe := rl.client.Pipeline()

	// 移除窗口开始时间之前的所有请求记录
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))

	pipe.ZAdd(ctx, key, ri.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})

	zcardCmd := pipe.ZCard(ctx, key)

	pipe.Expire(ctx, key, time.Duration(rl.config.Window+10)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(zcardCmd.Val())
	return count <= rl.config.MaxRequests, count, nil
}

func (rl *RateLimiter) Block(ctx context.Context, c *app.RequestContext) error {
	return rl.client.Set(ctx, rl.blockKey(c), "1", time.Duration(rl.config.BlockDuration)*time.Second).Err()
}

func (rl *RateLimiter) IsBlocked(ctx context.Context, c *app.RequestContext) (bool, error) {
	result, err := rl.client.Exists(ctx, rl.blockKey(c)).Result()
	return result > 0, err
}

// Middleware Redis 不可用时放行，占座本身的正确性不依赖限流
func (rl *RateLimiter) Middleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		blocked, err := rl.IsBlocked(ctx, c)
		if err != nil {
			logger.Logger.Error("Failed to check block status", zap.Error(err))
			c.Next(ctx)
			return
		}

		if blocked {
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		allowed, count, err := rl.Allow(ctx, c)
		if err != nil {
			logger.Logger.Error("Failed to check rate limit", zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := rl.config.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(rl.config.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(time.Duration(rl.config.Window)*time.Second).Unix(), 10))

		if !allowed {
			if err := rl.Block(ctx, c); err != nil {
				logger.Logger.Error("Failed to block client", zap.Error(err))
			}

			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

// RateLimitMiddleware 使用全局 Redis 客户端
func RateLimitMiddleware(prefix string, config RateLimitConfig) app.HandlerFunc {
	return NewRateLimiter(redis.Client(), prefix, config).Middleware()
}
