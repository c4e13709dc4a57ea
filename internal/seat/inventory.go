package seat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/metrics"
)

// TransferFailedNotice 换乘失败后展示给报名者的提示
const TransferFailedNotice = "Your previous pickup location was released, but the new one is no longer available. " +
	"You are now registered without transport; please pick another location."

const transferLockTTL = 10 * time.Second

// EventPublisher 座位事件的出站发布，失败不影响占座结果
type EventPublisher interface {
	PublishSeatEvent(ctx context.Context, msg model.SeatEventMessage) error
}

// Locker 跨实例串行化同一报名者的换乘
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type InventoryOption func(*Inventory)

func WithPublisher(p EventPublisher) InventoryOption {
	return func(i *Inventory) {
		i.publisher = p
	}
}

func WithLocker(l Locker) InventoryOption {
	return func(i *Inventory) {
		i.locker = l
	}
}

func WithClock(now func() time.Time) InventoryOption {
	return func(i *Inventory) {
		i.now = now
	}
}

// Inventory 名额管理服务，在 Repository 之上提供换乘、候选推荐、事件与指标
type Inventory struct {
	repo      Repository
	publisher EventPublisher
	locker    Locker
	now       func() time.Time
}

func NewInventory(repo Repository, opts ...InventoryOption) *Inventory {
	inv := &Inventory{
		repo: repo,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// TransferResult 换乘结果；失败时 Transport 为"不需要接驳"并带提示
type TransferResult struct {
	Resource    *model.SeatResource
	Transport   *model.TransportSelection
	Transferred bool
}

// CreateResource 活动配置时创建上车点
func (i *Inventory) CreateResource(ctx context.Context, res *model.SeatResource) error {
	if err := i.repo.Create(ctx, res); err != nil {
		return err
	}
	logger.Logger.Info("Seat resource created",
		zap.String("resource_id", res.ID),
		zap.String("event_id", res.EventID),
		zap.Int("capacity", res.Capacity),
	)
	return nil
}

func (i *Inventory) ListResources(ctx context.Context, eventID string) ([]model.SeatResource, error) {
	return i.repo.List(ctx, eventID)
}

func (i *Inventory) Get(ctx context.Context, id string) (*model.SeatResource, error) {
	return i.repo.Get(ctx, id)
}

// CheckAvailability 仅供参考，检查与占座之间存在竞争窗口
func (i *Inventory) CheckAvailability(ctx context.Context, id string) (bool, error) {
	res, err := i.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return res.Available(), nil
}

// BatchRefresh 一次往返刷新多个上车点
func (i *Inventory) BatchRefresh(ctx context.Context, ids []string) ([]model.SeatResource, error) {
	return i.repo.Batch(ctx, ids)
}

// Reserve 原子占座，名额已满返回 ErrConflict，不存在返回 ErrNotFound
func (i *Inventory) Reserve(ctx context.Context, id, participantRef string) (*model.SeatResource, error) {
	start := time.Now()
	res, err := i.repo.Reserve(ctx, id, participantRef)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		metrics.GetMetrics().RecordReservation(ctx, i.repo.Backend(), "ok", elapsed)
		logger.Logger.Info("Seat reserved",
			zap.String("resource_id", id),
			zap.String("participant_ref", participantRef),
			zap.Int("reserved_count", res.ReservedCount),
			zap.Int("capacity", res.Capacity),
		)
		i.publish(ctx, model.SeatEventReserved, res, id, participantRef)
		return res, nil
	case errors.Is(err, ErrConflict):
		metrics.GetMetrics().RecordReservation(ctx, i.repo.Backend(), "conflict", elapsed)
		logger.Logger.Info("Seat reservation conflict",
			zap.String("resource_id", id),
			zap.String("participant_ref", participantRef),
		)
	case errors.Is(err, ErrNotFound):
		metrics.GetMetrics().RecordReservation(ctx, i.repo.Backend(), "not_found", elapsed)
	default:
		metrics.GetMetrics().RecordReservation(ctx, i.repo.Backend(), "error", elapsed)
		logger.Logger.Error("Seat reservation failed",
			zap.String("resource_id", id),
			zap.String("participant_ref", participantRef),
			zap.Error(err),
		)
	}
	return nil, err
}

// Release 释放名额，重复释放返回 false
func (i *Inventory) Release(ctx context.Context, id, participantRef string) (bool, error) {
	released, err := i.repo.Release(ctx, id, participantRef)
	if err != nil {
		return false, err
	}

	metrics.GetMetrics().RecordRelease(ctx, i.repo.Backend(), released)
	if released {
		logger.Logger.Info("Seat released",
			zap.String("resource_id", id),
			zap.String("participant_ref", participantRef),
		)
		res, _ := i.repo.Get(ctx, id)
		i.publish(ctx, model.SeatEventReleased, res, id, participantRef)
	}
	return released, nil
}

// Transfer 先释放 from 再占 to；to 失败时报名者保持未分配状态并收到提示，
// 不会自动回到 from（from 此时可能也已满）
// to 占座失败时同时返回结果和 ErrConflict / ErrNotFound
func (i *Inventory) Transfer(ctx context.Context, fromID, toID, participantRef string) (*TransferResult, error) {
	if participantRef == "" || toID == "" {
		return nil, pkgerrors.InvalidRequest
	}

	if i.locker != nil {
		unlock, ok, err := i.locker.TryLock(ctx, "transfer:"+participantRef, transferLockTTL)
		switch {
		case err != nil:
			// 锁只防止同一报名者的重复提交，正确性由原子操作保证
			logger.Logger.Warn("Transfer lock unavailable, continuing without it",
				zap.String("participant_ref", participantRef),
				zap.Error(err),
			)
		case !ok:
			return nil, fmt.Errorf("%w: transfer already in progress", pkgerrors.TooManyRequests)
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					logger.Logger.Warn("Failed to release transfer lock", zap.Error(err))
				}
			}()
		}
	}

	if fromID != "" && fromID != toID {
		if _, err := i.Release(ctx, fromID, participantRef); err != nil && !errors.Is(err, ErrNotFound) {
			metrics.GetMetrics().RecordTransfer(ctx, "error")
			return nil, err
		}
	}

	res, err := i.Reserve(ctx, toID, participantRef)
	if err != nil {
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
			metrics.GetMetrics().RecordTransfer(ctx, "error")
		} else {
			metrics.GetMetrics().RecordTransfer(ctx, "failed")
		}

		logger.Logger.Warn("Seat transfer failed, participant left without transport",
			zap.String("from_id", fromID),
			zap.String("to_id", toID),
			zap.String("participant_ref", participantRef),
			zap.Error(err),
		)
		i.publish(ctx, model.SeatEventTransferFailed, nil, toID, participantRef)

		transport := model.NoTransport()
		transport.Notice = TransferFailedNotice
		return &TransferResult{Transport: transport}, err
	}

	metrics.GetMetrics().RecordTransfer(ctx, "ok")
	return &TransferResult{
		Resource:    res,
		Transport:   &model.TransportSelection{LocationID: res.ID, Required: true},
		Transferred: true,
	}, nil
}

// Alternatives 同一活动下最多 n 个仍有空位的上车点，排除 excludeID
func (i *Inventory) Alternatives(ctx context.Context, eventID, excludeID string, n int) ([]model.SeatResource, error) {
	if n <= 0 {
		return []model.SeatResource{}, nil
	}
	all, err := i.repo.List(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := make([]model.SeatResource, 0, n)
	for _, res := range all {
		if res.ID == excludeID || !res.Available() {
			continue
		}
		out = append(out, res)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (i *Inventory) publish(ctx context.Context, typ model.SeatEventType, res *model.SeatResource, id, participantRef string) {
	if i.publisher == nil {
		return
	}

	msg := model.SeatEventMessage{
		Type:           typ,
		ResourceID:     id,
		ParticipantRef: participantRef,
		OccurredAt:     i.now().UTC().Format(time.RFC3339),
	}
	if res != nil {
		msg.EventID = res.EventID
		msg.ReservedCount = res.ReservedCount
		msg.Capacity = res.Capacity
	}

	if err := i.publisher.PublishSeatEvent(ctx, msg); err != nil {
		logger.Logger.Warn("Failed to publish seat event",
			zap.String("type", string(typ)),
			zap.String("resource_id", id),
			zap.Error(err),
		)
	}
}
