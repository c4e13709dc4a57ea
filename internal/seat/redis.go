package seat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ri "github.com/redis/go-redis/v9"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/storage/redis"
)

// 脚本返回值
const (
	scriptNotFound = -1
	scriptConflict = 0
	scriptOK       = 1
	scriptHeld     = 2
)

// KEYS: 资源 hash, 持有者集合; ARGV: participantRef
// 检查与加一在同一个脚本里完成，Redis 单线程执行保证不可分割
var reserveScript = ri.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 1 then
	return 2
end
local capacity = tonumber(redis.call("HGET", KEYS[1], "capacity"))
local reserved = tonumber(redis.call("HGET", KEYS[1], "reserved_count"))
if reserved >= capacity then
	return 0
end
redis.call("HINCRBY", KEYS[1], "reserved_count", 1)
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`)

// 只有持有者集合里确实删掉了报名者才减一，重复释放无效
var releaseScript = ri.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("SREM", KEYS[2], ARGV[1]) == 0 then
	return 0
end
local reserved = tonumber(redis.call("HGET", KEYS[1], "reserved_count"))
if reserved > 0 then
	redis.call("HINCRBY", KEYS[1], "reserved_count", -1)
end
return 1
`)

// KEYS: 资源 hash, 活动有序集合; ARGV: id, score, 以及 hash 字段键值对
// 已存在的资源不覆盖，capacity 创建后不可修改
var createScript = ri.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// RedisRepository 资源 hash + 每个活动一个按上车时间排序的有序集合 + 每个资源一个持有者集合
type RedisRepository struct {
	client ri.UniversalClient
	prefix string
}

func NewRedisRepository(client ri.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) Backend() string {
	return BackendRedis
}

func (r *RedisRepository) resourceKey(id string) string {
	return redis.KeyWithPrefix(r.prefix, "seat", "res", id)
}

func (r *RedisRepository) holdersKey(id string) string {
	return redis.KeyWithPrefix(r.prefix, "seat", "holders", id)
}

func (r *RedisRepository) eventKey(eventID string) string {
	return redis.KeyWithPrefix(r.prefix, "seat", "event", eventID)
}

func (r *RedisRepository) Create(ctx context.Context, res *model.SeatResource) error {
	if err := validateResource(res); err != nil {
		return err
	}

	now := time.Now().UTC()
	args := []interface{}{
		res.ID,
		res.PickupTime.UnixMilli(),
		"id", res.ID,
		"event_id", res.EventID,
		"label", res.Label,
		"address", res.Address,
		"pickup_time", res.PickupTime.UTC().Format(time.RFC3339Nano),
		"capacity", res.Capacity,
		"reserved_count", res.ReservedCount,
		"lat", strconv.FormatFloat(res.Lat, 'f', -1, 64),
		"lng", strconv.FormatFloat(res.Lng, 'f', -1, 64),
		"created_at", now.Format(time.RFC3339Nano),
	}

	created, err := createScript.Run(ctx, r.client,
		[]string{r.resourceKey(res.ID), r.eventKey(res.EventID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to create seat resource: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: seat resource %s already exists", pkgerrors.InvalidRequest, res.ID)
	}
	res.CreatedAt = now
	res.UpdatedAt = now
	return nil
}

func (r *RedisRepository) List(ctx context.Context, eventID string) ([]model.SeatResource, error) {
	// 分数相同时按成员字典序，即上车时间相同按 ID 排序
	ids, err := r.client.ZRange(ctx, r.eventKey(eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list seat resources: %w", err)
	}
	return r.Batch(ctx, ids)
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	fields, err := r.client.HGetAll(ctx, r.resourceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get seat resource: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	res, err := decodeResource(fields)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *RedisRepository) Batch(ctx context.Context, ids []string) ([]model.SeatResource, error) {
	if len(ids) == 0 {
		return []model.SeatResource{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*ri.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.resourceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, ri.Nil) {
		return nil, fmt.Errorf("failed to batch get seat resources: %w", err)
	}

	out := make([]model.SeatResource, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		res, err := decodeResource(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *RedisRepository) Reserve(ctx context.Context, id, participantRef string) (*model.SeatResource, error) {
	if participantRef == "" {
		return nil, pkgerrors.InvalidRequest
	}

	code, err := reserveScript.Run(ctx, r.client,
		[]string{r.resourceKey(id), r.holdersKey(id)}, participantRef).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seat: %w", err)
	}

	switch code {
	case scriptNotFound:
		return nil, ErrNotFound
	case scriptConflict:
		return nil, ErrConflict
	case scriptOK, scriptHeld:
		return r.Get(ctx, id)
	default:
		return nil, fmt.Errorf("unexpected reserve result %d", code)
	}
}

func (r *RedisRepository) Release(ctx context.Context, id, participantRef string) (bool, error) {
	if participantRef == "" {
		return false, pkgerrors.InvalidRequest
	}

	code, err := releaseScript.Run(ctx, r.client,
		[]string{r.resourceKey(id), r.holdersKey(id)}, participantRef).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release seat: %w", err)
	}

	switch code {
	case scriptNotFound:
		return false, ErrNotFound
	case scriptOK:
		return true, nil
	default:
		return false, nil
	}
}

// Holders 某个上车点当前的持有者
func (r *RedisRepository) Holders(ctx context.Context, id string) ([]string, error) {
	return r.client.SMembers(ctx, r.holdersKey(id)).Result()
}

func decodeResource(fields map[string]string) (model.SeatResource, error) {
	res := model.SeatResource{
		ID:      fields["id"],
		EventID: fields["event_id"],
		Label:   fields["label"],
		Address: fields["address"],
	}

	var err error
	if res.Capacity, err = strconv.Atoi(fields["capacity"]); err != nil {
		return res, fmt.Errorf("invalid capacity for seat resource %s: %w", res.ID, err)
	}
	if res.ReservedCount, err = strconv.Atoi(fields["reserved_count"]); err != nil {
		return res, fmt.Errorf("invalid reserved count for seat resource %s: %w", res.ID, err)
	}
	if res.PickupTime, err = time.Parse(time.RFC3339Nano, fields["pickup_time"]); err != nil {
		return res, fmt.Errorf("invalid pickup time for seat resource %s: %w", res.ID, err)
	}
	res.Lat, _ = strconv.ParseFloat(fields["lat"], 64)
	res.Lng, _ = strconv.ParseFloat(fields["lng"], 64)
	if created, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		res.CreatedAt = created
		res.UpdatedAt = created
	}
	return res, nil
}
