package cache

import (
	"context"
	"fmt"
	"time"

	ri "github.com/redis/go-redis/v9"

	"ShuttleSignup/storage/redis"
)

const SubmittedPrefix = "flow:submitted"

// SubmittedRegistry 已提交报名的会话 ID；会话 ID 同时是占座的报名者标识，提交后不能再用来开始新的流程
type SubmittedRegistry struct {
	client ri.Cmdable
	prefix string
	ttl    time.Duration
}

// NewSubmittedRegistry ttl<=0 时永久保留
func NewSubmittedRegistry(client ri.Cmdable, prefix string, ttl time.Duration) *SubmittedRegistry {
	return &SubmittedRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *SubmittedRegistry) key(sessionID string) string {
	return redis.KeyWithPrefix(r.prefix, SubmittedPrefix, sessionID)
}

func (r *SubmittedRegistry) MarkSubmitted(ctx context.Context, sessionID string, at time.Time) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(sessionID), at.UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark registration submitted: %w", err)
	}
	return nil
}

func (r *SubmittedRegistry) IsSubmitted(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check submitted registration: %w", err)
	}
	return n > 0, nil
}
