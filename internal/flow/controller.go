// Package flow 报名向导的流程控制器。
//
// 控制器持有一个会话的 FlowState，所有修改在内存中立即生效，
// 随后异步（防抖）写入持久化存储；存储失败只记日志，不影响导航。
package flow

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
)

// Persister 流程状态的持久化，由 flowstore.Store 实现
type Persister interface {
	Save(ctx context.Context, state model.FlowState) error
	Load(ctx context.Context, sessionID string) (model.FlowState, bool)
	Clear(ctx context.Context, sessionID string)
}

type Option func(*Controller)

// WithSessionID 使用已知的会话 ID，否则新建一个
func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.state.SessionID = id
		}
	}
}

// WithDebounce 保存防抖间隔，<=0 时每次修改立即在后台保存
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		c.debounce = d
	}
}

// WithSaveTimeout 单次后台保存的超时
func WithSaveTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.saveTimeout = d
		}
	}
}

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithIDGenerator 注入会话 ID 生成器，测试用
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		c.newID = gen
	}
}

type Controller struct {
	store       Persister
	now         func() time.Time
	newID       func() string
	debounce    time.Duration
	saveTimeout time.Duration

	mu      sync.Mutex
	state   model.FlowState
	timer   *time.Timer
	pending bool
	closed  bool

	// 串行化写入，保证最后一次落盘的是最新快照
	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// New 创建控制器，初始状态为第一步，未恢复任何持久化数据
func New(store Persister, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		now:         time.Now,
		newID:       uuid.NewString,
		debounce:    300 * time.Millisecond,
		saveTimeout: 3 * time.Second,
	}
	c.state = model.NewFlowState("")
	for _, opt := range opts {
		opt(c)
	}
	if c.state.SessionID == "" {
		c.state.SessionID = c.newID()
	}
	return c
}

// ParseStep 边界输入校验
func ParseStep(raw string) (model.Step, error) {
	step := model.Step(raw)
	if !step.Valid() {
		return "", pkgerrors.InvalidStep
	}
	return step, nil
}

// ParseRole 边界输入校验
func ParseRole(raw string) (model.Role, error) {
	role := model.Role(raw)
	if !role.Valid() {
		return "", pkgerrors.InvalidRole
	}
	return role, nil
}

// State 当前状态的快照
func (c *Controller) State() model.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SessionID
}

func (c *Controller) CurrentStep() model.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CurrentStep
}

func (c *Controller) IsCompleted(step model.Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.IsCompleted(step)
}

// CanNavigateTo 目标为当前步骤或已完成，或者是当前步骤的后继且当前步骤已完成
func (c *Controller) CanNavigateTo(target model.Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canNavigateTo(target)
}

func (c *Controller) canNavigateTo(target model.Step) bool {
	if !target.Valid() {
		return false
	}
	current := c.state.CurrentStep
	if target == current || c.state.CompletedSteps[target] {
		return true
	}
	next, ok := current.Next()
	return ok && target == next && c.state.CompletedSteps[current]
}

// NavigableSteps 当前可以跳转的步骤
func (c *Controller) NavigableSteps() []model.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Step, 0, len(model.Steps))
	for _, step := range model.Steps {
		if c.canNavigateTo(step) {
			out = append(out, step)
		}
	}
	return out
}

// GoToStep 满足守卫时跳转，否则不做任何修改；返回是否发生了跳转
func (c *Controller) GoToStep(target model.Step) bool {
	c.mu.Lock()
	if !c.canNavigateTo(target) {
		current := c.state.CurrentStep
		c.mu.Unlock()
		logger.Logger.Debug("Navigation blocked by step guard",
			zap.String("from", string(current)),
			zap.String("to", string(target)),
		)
		return false
	}
	c.state.CurrentStep = target
	c.mu.Unlock()

	c.scheduleSave()
	return true
}

// GoToNextStep 规范顺序的下一步，受同样的守卫约束
func (c *Controller) GoToNextStep() bool {
	next, ok := c.CurrentStep().Next()
	if !ok {
		return false
	}
	return c.GoToStep(next)
}

// GoToPreviousStep 规范顺序的上一步，第一步时无操作
func (c *Controller) GoToPreviousStep() bool {
	prev, ok := c.CurrentStep().Previous()
	if !ok {
		return false
	}
	return c.GoToStep(prev)
}

// CompleteStep 标记步骤完成，幂等
func (c *Controller) CompleteStep(step model.Step) {
	if !step.Valid() {
		return
	}
	c.mutate(func(s *model.FlowState) {
		s.CompletedSteps[step] = true
	})
}

func (c *Controller) SetRole(role model.Role) error {
	if !role.Valid() {
		return pkgerrors.InvalidRole
	}
	c.mutate(func(s *model.FlowState) {
		s.Role = &role
	})
	return nil
}

func (c *Controller) SetEvent(eventID string) error {
	if eventID == "" {
		return pkgerrors.InvalidRequest
	}
	c.mutate(func(s *model.FlowState) {
		s.SelectedEventID = &eventID
	})
	return nil
}

func (c *Controller) SetPersonalInfo(info model.PersonalInfo) {
	c.mutate(func(s *model.FlowState) {
		s.PersonalInfo = &info
	})
}

// SetTransport nil 清空选择
func (c *Controller) SetTransport(sel *model.TransportSelection) {
	if sel != nil {
		cp := *sel
		sel = &cp
	}
	c.mutate(func(s *model.FlowState) {
		s.TransportSelection = sel
	})
}

// SetLoading 请求进行中的标记，不落盘
func (c *Controller) SetLoading(loading bool) {
	c.mu.Lock()
	c.state.Loading = loading
	c.mu.Unlock()
}

// SetLastError 最近一次错误信息，不落盘
func (c *Controller) SetLastError(msg string) {
	c.mu.Lock()
	c.state.LastError = msg
	c.mu.Unlock()
}

// Progress 当前步骤在规范顺序中的百分比位置，取整
func (c *Controller) Progress() int {
	return ProgressOf(c.CurrentStep())
}

func ProgressOf(step model.Step) int {
	idx := step.Index()
	if idx < 0 {
		return 0
	}
	return int(math.Round(float64(idx+1) * 100 / float64(len(model.Steps))))
}

// ResetFlow 清除持久化副本并以新会话 ID 回到初始状态
func (c *Controller) ResetFlow(ctx context.Context) {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	oldID := c.state.SessionID
	c.state = model.NewFlowState(c.newID())
	c.mu.Unlock()

	c.saveMu.Lock()
	c.store.Clear(ctx, oldID)
	c.saveMu.Unlock()
}

// SaveToStorage 立即保存，打上新的 lastSavedAt
func (c *Controller) SaveToStorage(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()
	return c.save(ctx)
}

// LoadFromStorage 从持久化存储恢复，找到有效记录时整体替换内存状态
func (c *Controller) LoadFromStorage(ctx context.Context) bool {
	state, ok := c.store.Load(ctx, c.SessionID())
	if !ok {
		return false
	}

	c.mu.Lock()
	c.stopTimerLocked()
	c.state = state
	c.mu.Unlock()

	logger.Logger.Info("Registration flow resumed",
		zap.String("session_id", state.SessionID),
		zap.String("step", string(state.CurrentStep)),
	)
	return true
}

// Restore 会话开始时调用，没有可恢复的记录时保持初始状态
func (c *Controller) Restore(ctx context.Context) bool {
	if c.LoadFromStorage(ctx) {
		return true
	}
	logger.Logger.Debug("No saved registration flow, starting fresh",
		zap.String("session_id", c.SessionID()),
	)
	return false
}

// ClearStorage 删除持久化副本，内存状态不变
func (c *Controller) ClearStorage(ctx context.Context) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.store.Clear(ctx, c.SessionID())
}

// Flush 立即写入尚未落盘的修改，并等待后台保存结束
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.pending
	c.stopTimerLocked()
	c.mu.Unlock()

	c.wg.Wait()
	if !pending {
		return nil
	}
	return c.save(ctx)
}

// Close 写入剩余修改后停止后台保存
func (c *Controller) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Controller) mutate(fn func(s *model.FlowState)) {
	c.mu.Lock()
	fn(&c.state)
	now := c.now()
	c.state.LastSavedAt = &now
	c.mu.Unlock()
	c.scheduleSave()
}

// scheduleSave 每次修改后调用，调用方从不等待写入结果
func (c *Controller) scheduleSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = true

	if c.debounce <= 0 {
		c.pending = false
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.backgroundSave()
		}()
		return
	}

	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(c.debounce, func() {
		defer c.wg.Done()
		c.mu.Lock()
		if c.timer != timer {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.pending = false
		c.mu.Unlock()
		c.backgroundSave()
	})
	c.timer = timer
}

// stopTimerLocked 调用方持有 c.mu
func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		if c.timer.Stop() {
			c.wg.Done()
		}
		c.timer = nil
	}
	c.pending = false
}

func (c *Controller) backgroundSave() {
	ctx, cancel := context.WithTimeout(context.Background(), c.saveTimeout)
	defer cancel()
	_ = c.save(ctx)
}

func (c *Controller) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	now := c.now()
	c.state.LastSavedAt = &now
	snapshot := c.state.Clone()
	c.mu.Unlock()

	return c.store.Save(ctx, snapshot)
}
