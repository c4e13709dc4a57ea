package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/internal/flow"
	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/model/dto"
	"ShuttleSignup/internal/reservation"
	"ShuttleSignup/internal/seat"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/metrics"
)

var registrationService *RegistrationService

// InitRegistration 启动时注入，handler 通过 Registration() 获取
func InitRegistration(s *RegistrationService) {
	registrationService = s
}

func Registration() *RegistrationService {
	if registrationService == nil {
		panic("registration service not initialized")
	}
	return registrationService
}

// Submitter 报名提交消息的出站发布
type Submitter interface {
	PublishRegistrationSubmitted(ctx context.Context, msg model.RegistrationSubmittedMessage) error
}

// SubmissionLedger 记录已提交的会话 ID，已提交的 ID 不再用于新的流程
type SubmissionLedger interface {
	MarkSubmitted(ctx context.Context, sessionID string, at time.Time) error
	IsSubmitted(ctx context.Context, sessionID string) (bool, error)
}

// StoreFactory 按设备构造流程状态的持久化存储
type StoreFactory func(deviceID string) flow.Persister

// SessionRef 请求携带的向导会话标识，来自 cookie
type SessionRef struct {
	DeviceID  string
	SessionID string
}

type RegistrationOptions struct {
	SaveDebounce   time.Duration
	SaveTimeout    time.Duration
	IdleEvictAfter time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Alternatives   int
	// 为空时只靠内存中的会话阻止重复提交
	Submissions SubmissionLedger
}

// RegistrationService 持有每个向导会话的流程控制器和座位客户端
// 同一会话的请求串行处理，不同会话互不影响
type RegistrationService struct {
	stores    StoreFactory
	seats     reservation.API
	submitter Submitter
	opts      RegistrationOptions
	now       func() time.Time

	// 座位轮询跟随服务的生命周期，不跟随单个请求
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*registrationSession
}

type registrationSession struct {
	mu         sync.Mutex
	controller *flow.Controller
	seats      *reservation.Client
	resumed    bool
	closed     bool
	lastUsed   atomic.Int64
}

func NewRegistrationService(stores StoreFactory, seats reservation.API, submitter Submitter, opts RegistrationOptions) *RegistrationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RegistrationService{
		stores:    stores,
		seats:     seats,
		submitter: submitter,
		opts:      opts,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*registrationSession),
	}
}

// State 返回当前状态；服务内没有该会话时先尝试从存储恢复
func (s *RegistrationService) State(ctx context.Context, ref SessionRef) (dto.FlowStateData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()
	return s.view(sess), nil
}

// GoTo 守卫不满足时静默保持当前步骤
func (s *RegistrationService) GoTo(ctx context.Context, ref SessionRef, rawStep string) (dto.FlowStateData, error) {
	step, err := flow.ParseStep(rawStep)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if !submitted(sess) {
		sess.controller.GoToStep(step)
	}
	return s.view(sess), nil
}

func (s *RegistrationService) Next(ctx context.Context, ref SessionRef) (dto.FlowStateData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if !submitted(sess) {
		sess.controller.GoToNextStep()
	}
	return s.view(sess), nil
}

func (s *RegistrationService) Previous(ctx context.Context, ref SessionRef) (dto.FlowStateData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if !submitted(sess) {
		sess.controller.GoToPreviousStep()
	}
	return s.view(sess), nil
}

// SetRole 保存身份并完成 identity 步骤
func (s *RegistrationService) SetRole(ctx context.Context, ref SessionRef, rawRole string) (dto.FlowStateData, error) {
	role, err := flow.ParseRole(rawRole)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepIdentity); err != nil {
		return dto.FlowStateData{}, err
	}
	if err := sess.controller.SetRole(role); err != nil {
		return dto.FlowStateData{}, err
	}
	s.finishStep(sess, model.StepIdentity)
	return s.view(sess), nil
}

// SetEvent 更换活动时释放已占的座位并清空接驳选择
func (s *RegistrationService) SetEvent(ctx context.Context, ref SessionRef, eventID string) (dto.FlowStateData, error) {
	if eventID == "" {
		return dto.FlowStateData{}, pkgerrors.InvalidRequest
	}
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepEvent); err != nil {
		return dto.FlowStateData{}, err
	}

	state := sess.controller.State()
	if state.SelectedEventID != nil && *state.SelectedEventID != eventID {
		s.releaseHeld(ctx, state)
		sess.controller.SetTransport(nil)
		s.stopSeats(sess)
	}

	if err := sess.controller.SetEvent(eventID); err != nil {
		return dto.FlowStateData{}, err
	}
	s.finishStep(sess, model.StepEvent)
	return s.view(sess), nil
}

func (s *RegistrationService) SetPersonalInfo(ctx context.Context, ref SessionRef, info model.PersonalInfo) (dto.FlowStateData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepPersonalInfo); err != nil {
		return dto.FlowStateData{}, err
	}
	sess.controller.SetPersonalInfo(info)
	s.finishStep(sess, model.StepPersonalInfo)
	return s.view(sess), nil
}

// TransportOptions 上车点快照，首次调用时启动后台轮询
func (s *RegistrationService) TransportOptions(ctx context.Context, ref SessionRef) (dto.TransportOptionsData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.TransportOptionsData{}, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepTransport); err != nil {
		return dto.TransportOptionsData{}, err
	}
	client, err := s.seatClient(ctx, sess)
	if err != nil {
		return dto.TransportOptionsData{}, err
	}
	return transportOptions(client), nil
}

// SelectTransport 只修改本地选择，确认时才占座
func (s *RegistrationService) SelectTransport(ctx context.Context, ref SessionRef, req dto.SelectTransportRequest) (dto.TransportOptionsData, error) {
	if !req.NoTransport && req.LocationID == "" {
		return dto.TransportOptionsData{}, fmt.Errorf("%w: location_id or no_transport is required", pkgerrors.InvalidRequest)
	}
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.TransportOptionsData{}, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepTransport); err != nil {
		return dto.TransportOptionsData{}, err
	}
	client, err := s.seatClient(ctx, sess)
	if err != nil {
		return dto.TransportOptionsData{}, err
	}

	if req.NoTransport {
		client.SelectNoTransport()
	} else {
		client.Select(req.LocationID)
	}
	return transportOptions(client), nil
}

// ConfirmTransport 以当前选择占座，成功后完成 transport 步骤
// 复查发现已满时返回 SeatUnavailable；占座冲突时返回 seat.ErrConflict；两种情况都停留在接驳步骤并带候选上车点
func (s *RegistrationService) ConfirmTransport(ctx context.Context, ref SessionRef) (*dto.ConfirmTransportData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	if err := s.editable(sess, model.StepTransport); err != nil {
		return nil, err
	}
	client, err := s.seatClient(ctx, sess)
	if err != nil {
		return nil, err
	}

	state := sess.controller.State()
	heldID := ""
	if t := state.TransportSelection; t != nil && t.Required {
		heldID = t.LocationID
	}

	if sel := client.Selection(); sel != nil && sel.Required && sel.LocationID != heldID {
		if data, err := s.verifySelection(ctx, sess, client, sel.LocationID); err != nil {
			return data, err
		}
	}

	sess.controller.SetLoading(true)
	result, err := client.Confirm(ctx, state.SessionID, heldID)
	sess.controller.SetLoading(false)

	data := &dto.ConfirmTransportData{}
	if result != nil {
		data.Transport = result.Transport
		if result.Resource != nil {
			item := dto.NewPickupLocationItem(*result.Resource)
			data.Location = &item
		}
		if len(result.Alternatives) > 0 {
			data.Alternatives = dto.NewPickupLocationList(result.Alternatives)
		}
	}

	if err != nil {
		if result != nil && result.Transport != nil {
			// 换乘失败，原座位已经释放
			sess.controller.SetTransport(result.Transport)
		}
		sess.controller.SetLastError(errorMessage(err))
		logger.WithContext(ctx).Info("Transport confirmation failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
		data.State = s.view(sess)
		return data, err
	}

	sess.controller.SetLastError("")
	sess.controller.SetTransport(result.Transport)
	s.finishStep(sess, model.StepTransport)
	data.State = s.view(sess)
	return data, nil
}

// verifySelection 占座前复查选中的上车点；已满时保留选择并返回候选，由用户自行改选
// 查询本身失败时不拦截，以占座结果为准
func (s *RegistrationService) verifySelection(ctx context.Context, sess *registrationSession, client *reservation.Client, locationID string) (*dto.ConfirmTransportData, error) {
	err := client.Verify(ctx)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, pkgerrors.SeatUnavailable) {
		logger.WithContext(ctx).Debug("Seat verification failed, confirming anyway",
			zap.String("resource_id", locationID),
			zap.Error(err),
		)
		return nil, nil
	}

	sess.controller.SetLastError(errorMessage(err))
	logger.WithContext(ctx).Info("Selected pickup location is no longer available",
		zap.String("session_id", sess.controller.SessionID()),
		zap.String("resource_id", locationID),
	)

	data := &dto.ConfirmTransportData{}
	if res, ok := client.Resource(locationID); ok {
		item := dto.NewPickupLocationItem(res)
		data.Location = &item
	}
	if alternatives := client.Alternatives(locationID); len(alternatives) > 0 {
		data.Alternatives = dto.NewPickupLocationList(alternatives)
	}
	data.State = s.view(sess)
	return data, err
}

// Submit 所有前置步骤完成后发布报名消息，进入 success 并删除持久化副本
func (s *RegistrationService) Submit(ctx context.Context, ref SessionRef) (*dto.SubmitData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	c := sess.controller
	if submitted(sess) {
		return nil, fmt.Errorf("%w: registration already submitted", pkgerrors.InvalidRequest)
	}

	state := c.State()
	for _, step := range []model.Step{model.StepIdentity, model.StepEvent, model.StepPersonalInfo, model.StepTransport} {
		if !state.IsCompleted(step) {
			return nil, fmt.Errorf("%w: %s", pkgerrors.StepIncomplete, step)
		}
	}
	if state.Role == nil || state.SelectedEventID == nil || state.PersonalInfo == nil || state.TransportSelection == nil {
		return nil, pkgerrors.StepIncomplete
	}

	now := s.now()
	submittedAt := now.UTC().Format(time.RFC3339)
	msg := model.RegistrationSubmittedMessage{
		SessionID:      state.SessionID,
		ParticipantRef: state.SessionID,
		Role:           *state.Role,
		EventID:        *state.SelectedEventID,
		PersonalInfo:   *state.PersonalInfo,
		Transport:      state.TransportSelection,
		SubmittedAt:    submittedAt,
	}
	if s.submitter != nil {
		if err := s.submitter.PublishRegistrationSubmitted(ctx, msg); err != nil {
			logger.WithContext(ctx).Error("Failed to publish registration",
				zap.String("session_id", state.SessionID),
				zap.Error(err),
			)
			c.SetLastError(pkgerrors.ServiceUnavailable.Message)
			return nil, fmt.Errorf("%w: %v", pkgerrors.ServiceUnavailable, err)
		}
	}

	if s.opts.Submissions != nil {
		if err := s.opts.Submissions.MarkSubmitted(ctx, state.SessionID, now); err != nil {
			logger.WithContext(ctx).Warn("Failed to record submitted registration",
				zap.String("session_id", state.SessionID),
				zap.Error(err),
			)
		}
	}

	c.SetLastError("")
	c.CompleteStep(model.StepConfirmation)
	c.GoToStep(model.StepConfirmation)
	c.GoToStep(model.StepSuccess)

	if err := c.Flush(ctx); err != nil {
		logger.WithContext(ctx).Warn("Failed to flush registration flow before clearing", zap.Error(err))
	}
	c.ClearStorage(ctx)
	s.stopSeats(sess)

	metrics.GetMetrics().RecordSubmission(ctx, string(*state.Role), state.TransportSelection.Required)
	logger.WithContext(ctx).Info("Registration submitted",
		zap.String("session_id", state.SessionID),
		zap.String("event_id", *state.SelectedEventID),
		zap.String("role", string(*state.Role)),
		zap.Bool("transport", state.TransportSelection.Required),
	)

	return &dto.SubmitData{ParticipantRef: state.SessionID, SubmittedAt: submittedAt}, nil
}

// Reset 未提交时先释放已占的座位，然后以新会话 ID 重新开始
func (s *RegistrationService) Reset(ctx context.Context, ref SessionRef) (dto.FlowStateData, error) {
	sess, err := s.acquire(ctx, ref)
	if err != nil {
		return dto.FlowStateData{}, err
	}
	defer sess.mu.Unlock()

	state := sess.controller.State()
	if !submitted(sess) {
		s.releaseHeld(ctx, state)
	}
	s.stopSeats(sess)

	sess.controller.ResetFlow(ctx)
	sess.resumed = false
	s.rekey(state.SessionID, sess.controller.SessionID(), sess)

	logger.WithContext(ctx).Info("Registration flow reset",
		zap.String("old_session_id", state.SessionID),
		zap.String("session_id", sess.controller.SessionID()),
	)
	return s.view(sess), nil
}

// EvictIdle 写入并移除超过空闲时间的会话，返回移除数量
func (s *RegistrationService) EvictIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.opts.IdleEvictAfter).UnixNano()

	s.mu.Lock()
	idle := make([]*registrationSession, 0)
	for id, sess := range s.sessions {
		if sess.lastUsed.Load() < cutoff {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		s.closeSession(ctx, sess)
	}
	if len(idle) > 0 {
		logger.WithContext(ctx).Info("Evicted idle registration sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Sessions 内存中的会话数
func (s *RegistrationService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close 停止所有轮询并写入所有会话
func (s *RegistrationService) Close(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	all := make([]*registrationSession, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		s.closeSession(ctx, sess)
	}
}

// acquire 返回已加锁的会话，调用方负责解锁
func (s *RegistrationService) acquire(ctx context.Context, ref SessionRef) (*registrationSession, error) {
	if ref.DeviceID == "" {
		return nil, pkgerrors.SessionNotFound
	}

	for {
		s.mu.Lock()
		sess, ok := s.sessions[ref.SessionID]
		s.mu.Unlock()
		if !ok || ref.SessionID == "" {
			break
		}

		sess.mu.Lock()
		if sess.closed {
			// 刚被回收，重新从存储恢复
			sess.mu.Unlock()
			continue
		}
		sess.lastUsed.Store(s.now().UnixNano())
		return sess, nil
	}

	requested := ref.SessionID
	if requested != "" && s.wasSubmitted(ctx, requested) {
		// 已提交的 ID 是报名者标识，换新 ID 重新开始
		requested = ""
	}
	controller := flow.New(s.stores(ref.DeviceID),
		flow.WithSessionID(requested),
		flow.WithDebounce(s.opts.SaveDebounce),
		flow.WithSaveTimeout(s.opts.SaveTimeout),
	)
	resumed := controller.Restore(ctx)
	if resumed && controller.SessionID() != requested && s.wasSubmitted(ctx, controller.SessionID()) {
		// 设备级副本残留了已提交的流程
		controller.ResetFlow(ctx)
		resumed = false
	}
	sess := &registrationSession{
		controller: controller,
		resumed:    resumed,
	}
	sess.lastUsed.Store(s.now().UnixNano())
	sess.mu.Lock()

	id := controller.SessionID()
	s.mu.Lock()
	existing, ok := s.sessions[id]
	if !ok {
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	if ok {
		// 并发请求已经恢复了同一个会话
		sess.mu.Unlock()
		_ = controller.Close(ctx)
		existing.mu.Lock()
		if existing.closed {
			existing.mu.Unlock()
			return s.acquire(ctx, SessionRef{DeviceID: ref.DeviceID, SessionID: id})
		}
		existing.lastUsed.Store(s.now().UnixNano())
		return existing, nil
	}

	metrics.GetMetrics().AddActiveSession(ctx, 1)
	if sess.resumed {
		logger.WithContext(ctx).Debug("Registration session restored",
			zap.String("requested_session_id", ref.SessionID),
			zap.String("session_id", id),
		)
	}
	return sess, nil
}

// wasSubmitted 查询失败时按已提交处理
func (s *RegistrationService) wasSubmitted(ctx context.Context, sessionID string) bool {
	if s.opts.Submissions == nil {
		return false
	}
	ok, err := s.opts.Submissions.IsSubmitted(ctx, sessionID)
	if err != nil {
		logger.WithContext(ctx).Warn("Failed to check submitted registration",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return true
	}
	return ok
}

func (s *RegistrationService) rekey(oldID, newID string, sess *registrationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[oldID] == sess {
		delete(s.sessions, oldID)
	}
	s.sessions[newID] = sess
}

func (s *RegistrationService) closeSession(ctx context.Context, sess *registrationSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	s.stopSeats(sess)
	if err := sess.controller.Close(ctx); err != nil {
		logger.WithContext(ctx).Warn("Failed to flush registration flow",
			zap.String("session_id", sess.controller.SessionID()),
			zap.Error(err),
		)
	}
	metrics.GetMetrics().AddActiveSession(ctx, -1)
}

// submitted 提交后状态不再变化，也不再写入存储
func submitted(sess *registrationSession) bool {
	return sess.controller.IsCompleted(model.StepConfirmation)
}

// editable 只能修改当前可以进入的步骤，已提交后不可修改
func (s *RegistrationService) editable(sess *registrationSession, step model.Step) error {
	if submitted(sess) {
		return fmt.Errorf("%w: registration already submitted", pkgerrors.InvalidRequest)
	}
	if !sess.controller.CanNavigateTo(step) {
		return fmt.Errorf("%w: %s", pkgerrors.StepIncomplete, step)
	}
	return nil
}

// finishStep 完成步骤，当前正处于该步骤时前进一步
func (s *RegistrationService) finishStep(sess *registrationSession, step model.Step) {
	sess.controller.CompleteStep(step)
	if sess.controller.CurrentStep() == step {
		sess.controller.GoToNextStep()
	}
}

func (s *RegistrationService) seatClient(ctx context.Context, sess *registrationSession) (*reservation.Client, error) {
	if sess.seats == nil {
		state := sess.controller.State()
		if state.SelectedEventID == nil {
			return nil, fmt.Errorf("%w: %s", pkgerrors.StepIncomplete, model.StepEvent)
		}
		client := reservation.NewClient(s.seats, *state.SelectedEventID,
			reservation.WithPollInterval(s.opts.PollInterval),
			reservation.WithAlternatives(s.opts.Alternatives),
			reservation.WithRequestTimeout(s.opts.RequestTimeout),
		)
		client.SetSelection(state.TransportSelection)
		sess.seats = client
	}

	if !sess.seats.Polling() {
		if err := sess.seats.Start(s.ctx); err != nil {
			logger.WithContext(ctx).Warn("Initial pickup location refresh failed", zap.Error(err))
			if len(sess.seats.Snapshot()) == 0 {
				return nil, err
			}
		}
	}
	return sess.seats, nil
}

func (s *RegistrationService) stopSeats(sess *registrationSession) {
	if sess.seats != nil {
		sess.seats.Stop()
		sess.seats = nil
	}
}

// releaseHeld 尽力释放报名者已占的座位
func (s *RegistrationService) releaseHeld(ctx context.Context, state model.FlowState) {
	t := state.TransportSelection
	if t == nil || !t.Required || t.LocationID == "" {
		return
	}
	if _, err := s.seats.Release(ctx, t.LocationID, state.SessionID); err != nil && !errors.Is(err, seat.ErrNotFound) {
		logger.WithContext(ctx).Warn("Failed to release held seat",
			zap.String("session_id", state.SessionID),
			zap.String("resource_id", t.LocationID),
			zap.Error(err),
		)
	}
}

func (s *RegistrationService) view(sess *registrationSession) dto.FlowStateData {
	c := sess.controller
	return dto.NewFlowStateData(c.State(), c.NavigableSteps(), c.Progress(), sess.resumed)
}

func transportOptions(client *reservation.Client) dto.TransportOptionsData {
	data := dto.TransportOptionsData{
		Locations: dto.NewPickupLocationList(client.Snapshot()),
		Selection: client.Selection(),
	}
	if data.Selection != nil {
		data.Selected = data.Selection.LocationID
	}
	return data
}

func errorMessage(err error) string {
	var def pkgerrors.Definition
	if errors.As(err, &def) {
		return def.Message
	}
	return err.Error()
}
