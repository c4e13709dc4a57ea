// Package reservation 上车点选择页面使用的预约客户端。
//
// 客户端缓存一个活动的上车点快照并定时刷新；快照只用于展示和提前提示，
// 是否占座成功完全以 ReserveAttempt 的结果为准。
package reservation

import (
	"context"

	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/seat"
)

// API 名额服务的网络接口
// ReserveAttempt 名额已满返回 seat.ErrConflict，不存在返回 seat.ErrNotFound
type API interface {
	List(ctx context.Context, eventID string) ([]model.SeatResource, error)
	Get(ctx context.Context, id string) (*model.SeatResource, error)
	ReserveAttempt(ctx context.Context, id, participantRef string) (*model.SeatResource, error)
	Release(ctx context.Context, id, participantRef string) (bool, error)
	Batch(ctx context.Context, ids []string) ([]model.SeatResource, error)
	Transfer(ctx context.Context, fromID, toID, participantRef string) (*seat.TransferResult, error)
}

// LocalAPI 进程内直接调用 seat.Inventory
type LocalAPI struct {
	inv *seat.Inventory
}

func NewLocalAPI(inv *seat.Inventory) *LocalAPI {
	return &LocalAPI{inv: inv}
}

func (a *LocalAPI) List(ctx context.Context, eventID string) ([]model.SeatResource, error) {
	return a.inv.ListResources(ctx, eventID)
}

func (a *LocalAPI) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	return a.inv.Get(ctx, id)
}

func (a *LocalAPI) ReserveAttempt(ctx context.Context, id, participantRef string) (*model.SeatResource, error) {
	return a.inv.Reserve(ctx, id, participantRef)
}

func (a *LocalAPI) Release(ctx context.Context, id, participantRef string) (bool, error) {
	return a.inv.Release(ctx, id, participantRef)
}

func (a *LocalAPI) Batch(ctx context.Context, ids []string) ([]model.SeatResource, error) {
	return a.inv.BatchRefresh(ctx, ids)
}

func (a *LocalAPI) Transfer(ctx context.Context, fromID, toID, participantRef string) (*seat.TransferResult, error) {
	return a.inv.Transfer(ctx, fromID, toID, participantRef)
}
