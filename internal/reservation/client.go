package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/seat"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultAlternatives = 3
	// 每 N 次刷新拉取一次整个活动，发现新增或删除的上车点
	DefaultFullRefreshEvery = 10
)

type Option func(*Client)

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithAlternatives 冲突后最多推荐的候选数
func WithAlternatives(n int) Option {
	return func(c *Client) {
		c.alternatives = n
	}
}

// WithRequestTimeout 单次刷新请求的超时
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithFullRefreshEvery n<=1 时每次刷新都拉取整个活动
func WithFullRefreshEvery(n int) Option {
	return func(c *Client) {
		c.fullEvery = n
	}
}

// ConfirmResult 确认结果；冲突时 Alternatives 给出仍有空位的上车点
type ConfirmResult struct {
	Resource     *model.SeatResource
	Transport    *model.TransportSelection
	Alternatives []model.SeatResource
}

// Client 一个活动的上车点快照、当前选择与后台轮询
type Client struct {
	api            API
	eventID        string
	interval       time.Duration
	alternatives   int
	requestTimeout time.Duration
	fullEvery      int

	mu          sync.RWMutex
	snapshot    []model.SeatResource
	selection   *model.TransportSelection
	refreshedAt time.Time
	lastErr     error
	refreshes   int
	// 本地修改的序号，刷新结果不覆盖刷新开始之后被修改的条目
	gen      uint64
	versions map[string]uint64

	pollMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(api API, eventID string, opts ...Option) *Client {
	c := &Client{
		api:            api,
		eventID:        eventID,
		interval:       DefaultPollInterval,
		alternatives:   DefaultAlternatives,
		requestTimeout: 5 * time.Second,
		fullEvery:      DefaultFullRefreshEvery,
		versions:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) EventID() string {
	return c.eventID
}

// Start 立即刷新一次，然后按固定间隔轮询直到 ctx 取消或调用 Stop
// 首次刷新失败不会阻止轮询启动
func (c *Client) Start(ctx context.Context) error {
	err := c.Refresh(ctx)

	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.cancel != nil {
		return err
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnParent := context.AfterFunc(ctx, cancel)
	c.cancel = func() {
		stopOnParent()
		cancel()
	}
	c.done = make(chan struct{})
	go c.poll(pollCtx, c.done)

	return err
}

// Stop 取消轮询并等待后台任务退出，可重复调用
func (c *Client) Stop() {
	c.pollMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.pollMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Polling 后台轮询是否在运行
func (c *Client) Polling() bool {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	return c.cancel != nil
}

func (c *Client) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
			if err := c.Refresh(reqCtx); err != nil && ctx.Err() == nil {
				logger.Logger.Warn("Failed to refresh pickup locations",
					zap.String("event_id", c.eventID),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Refresh 已有快照时一次批量请求刷新这些上车点，每隔若干次或快照为空时拉取整个活动
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.refreshes++
	ids := make([]string, 0, len(c.snapshot))
	for _, res := range c.snapshot {
		ids = append(ids, res.ID)
	}
	full := len(ids) == 0 || c.fullEvery <= 1 || c.refreshes%c.fullEvery == 0
	start := c.gen
	c.mu.Unlock()

	var (
		list []model.SeatResource
		err  error
	)
	if full {
		list, err = c.api.List(ctx, c.eventID)
	} else {
		list, err = c.api.Batch(ctx, ids)
	}
	return c.apply(list, err, start)
}

// Reload 重新拉取整个活动，用于 ReservationNotFound 之后的完整刷新
func (c *Client) Reload(ctx context.Context) error {
	c.mu.RLock()
	start := c.gen
	c.mu.RUnlock()

	list, err := c.api.List(ctx, c.eventID)
	return c.apply(list, err, start)
}

// apply 替换快照；start 之后本地改过的条目保留本地版本，本地删除的不再加回
func (c *Client) apply(list []model.SeatResource, err error, start uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if err != nil {
		return err
	}

	local := make(map[string]model.SeatResource, len(c.snapshot))
	for _, res := range c.snapshot {
		local[res.ID] = res
	}
	out := make([]model.SeatResource, 0, len(list))
	for _, res := range list {
		if c.versions[res.ID] > start {
			if cur, ok := local[res.ID]; ok {
				out = append(out, cur)
			}
			continue
		}
		out = append(out, res)
	}
	c.snapshot = out
	c.refreshedAt = time.Now()
	return nil
}

func (c *Client) touchLocked(id string) {
	c.gen++
	c.versions[id] = c.gen
}

// Snapshot 当前快照的副本
func (c *Client) Snapshot() []model.SeatResource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.SeatResource, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

func (c *Client) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// LastError 最近一次刷新的错误
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Client) Resource(id string) (model.SeatResource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, res := range c.snapshot {
		if res.ID == id {
			return res, true
		}
	}
	return model.SeatResource{}, false
}

// Selection nil 表示尚未选择
func (c *Client) Selection() *model.TransportSelection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selection == nil {
		return nil
	}
	sel := *c.selection
	return &sel
}

// SetSelection 从已保存的流程状态恢复选择
func (c *Client) SetSelection(sel *model.TransportSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sel == nil {
		c.selection = nil
		return
	}
	cp := *sel
	c.selection = &cp
}

// Select 选中另一个上车点会替换当前选择，再次选中当前上车点则取消选择
func (c *Client) Select(locationID string) *model.TransportSelection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selection != nil && c.selection.Required && c.selection.LocationID == locationID {
		c.selection = nil
		return nil
	}
	c.selection = &model.TransportSelection{LocationID: locationID, Required: true}
	sel := *c.selection
	return &sel
}

// SelectNoTransport 明确不需要接驳，区别于尚未选择
func (c *Client) SelectNoTransport() *model.TransportSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = model.NoTransport()
	return model.NoTransport()
}

// Verify 确认前对选中的上车点做一次尽力而为的复查，只刷新该条目，不会自动改选
func (c *Client) Verify(ctx context.Context) error {
	sel := c.Selection()
	if sel == nil || !sel.Required {
		return nil
	}

	res, err := c.api.Get(ctx, sel.LocationID)
	if err != nil {
		if errors.Is(err, seat.ErrNotFound) {
			c.removeEntry(sel.LocationID)
		}
		return err
	}

	c.updateEntry(*res)
	if !res.Available() {
		return fmt.Errorf("%w: %s", pkgerrors.SeatUnavailable, res.Label)
	}
	return nil
}

// Confirm 以当前选择占座。heldID 为报名者已经持有的上车点，不同时走换乘
// 名额已满时清空选择、在快照里标记为满并返回 seat.ErrConflict，调用方停留在接驳步骤
func (c *Client) Confirm(ctx context.Context, participantRef, heldID string) (*ConfirmResult, error) {
	sel := c.Selection()
	if sel == nil {
		return nil, fmt.Errorf("%w: no transport option selected", pkgerrors.InvalidRequest)
	}

	if !sel.Required {
		if heldID != "" {
			if _, err := c.api.Release(ctx, heldID, participantRef); err != nil && !errors.Is(err, seat.ErrNotFound) {
				return nil, err
			}
		}
		return &ConfirmResult{Transport: model.NoTransport()}, nil
	}

	if heldID != "" && heldID != sel.LocationID {
		return c.transfer(ctx, heldID, sel.LocationID, participantRef)
	}

	res, err := c.api.ReserveAttempt(ctx, sel.LocationID, participantRef)
	if err != nil {
		return c.handleReserveError(ctx, sel.LocationID, err, nil)
	}

	c.updateEntry(*res)
	return &ConfirmResult{
		Resource:  res,
		Transport: &model.TransportSelection{LocationID: res.ID, Required: true},
	}, nil
}

func (c *Client) transfer(ctx context.Context, fromID, toID, participantRef string) (*ConfirmResult, error) {
	result, err := c.api.Transfer(ctx, fromID, toID, participantRef)
	if err != nil {
		var transport *model.TransportSelection
		if result != nil {
			transport = result.Transport
		}
		return c.handleReserveError(ctx, toID, err, transport)
	}

	if result.Resource != nil {
		c.updateEntry(*result.Resource)
	}
	return &ConfirmResult{Resource: result.Resource, Transport: result.Transport}, nil
}

func (c *Client) handleReserveError(ctx context.Context, id string, err error, transport *model.TransportSelection) (*ConfirmResult, error) {
	switch {
	case errors.Is(err, seat.ErrConflict):
		// 重新查询后再标记为满，避免刷新结果覆盖掉本次冲突
		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			logger.Logger.Warn("Failed to refresh after reservation conflict",
				zap.String("resource_id", id),
				zap.Error(refreshErr),
			)
		}
		c.mu.Lock()
		c.selection = nil
		for i := range c.snapshot {
			if c.snapshot[i].ID == id {
				c.snapshot[i].ReservedCount = c.snapshot[i].Capacity
			}
		}
		c.touchLocked(id)
		c.mu.Unlock()
		return &ConfirmResult{Transport: transport, Alternatives: c.Alternatives(id)}, err

	case errors.Is(err, seat.ErrNotFound):
		c.mu.Lock()
		c.selection = nil
		c.mu.Unlock()
		c.removeEntry(id)
		return &ConfirmResult{Transport: transport}, err

	default:
		return nil, err
	}
}

// Alternatives 快照中仍有空位的上车点，最多 N 个
func (c *Client) Alternatives(excludeID string) []model.SeatResource {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.SeatResource, 0, c.alternatives)
	for _, res := range c.snapshot {
		if len(out) >= c.alternatives {
			break
		}
		if res.ID != excludeID && res.Available() {
			out = append(out, res)
		}
	}
	return out
}

func (c *Client) updateEntry(res model.SeatResource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(res.ID)
	for i := range c.snapshot {
		if c.snapshot[i].ID == res.ID {
			c.snapshot[i] = res
			return
		}
	}
}

func (c *Client) removeEntry(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(id)
	for i := range c.snapshot {
		if c.snapshot[i].ID == id {
			c.snapshot = append(c.snapshot[:i], c.snapshot[i+1:]...)
			return
		}
	}
}
