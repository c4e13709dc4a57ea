// Package seat 接驳上车点的名额管理。
//
// 正确性只依赖 Reserve/Release 在权威存储上的原子条件更新，
// 任何读接口（Get、List、Batch）返回的都只是某一时刻的快照。
package seat

import (
	"context"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var (
	// ErrConflict 名额已满，调用方应刷新后让用户另选
	ErrConflict = pkgerrors.ReservationConflict
	// ErrNotFound 上车点不存在，与 ErrConflict 区分
	ErrNotFound = pkgerrors.ReservationNotFound
)

// Repository 名额的权威存储
type Repository interface {
	Backend() string
	Create(ctx context.Context, res *model.SeatResource) error
	// List 按上车时间、再按 ID 排序
	List(ctx context.Context, eventID string) ([]model.SeatResource, error)
	Get(ctx context.Context, id string) (*model.SeatResource, error)
	// Batch 一次往返读取多个上车点，不存在的 ID 被跳过，结果保持入参顺序
	Batch(ctx context.Context, ids []string) ([]model.SeatResource, error)
	// Reserve reserved_count < capacity 时原子加一；同一报名者重复占座不会重复计数
	Reserve(ctx context.Context, id, participantRef string) (*model.SeatResource, error)
	// Release 报名者持有名额时减一（不低于 0），返回是否真正释放
	Release(ctx context.Context, id, participantRef string) (bool, error)
}

func validateResource(res *model.SeatResource) error {
	if res == nil || res.ID == "" || res.EventID == "" {
		return pkgerrors.InvalidRequest
	}
	if res.Capacity < 0 {
		return pkgerrors.InvalidCapacity
	}
	if res.ReservedCount < 0 || res.ReservedCount > res.Capacity {
		return pkgerrors.InvalidCapacity
	}
	return nil
}
