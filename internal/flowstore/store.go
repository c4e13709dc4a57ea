// Package flowstore 报名向导状态的两级持久化与恢复。
//
// 加载顺序：先会话级（按 sessionId 命名空间），再共享级（固定键）；
// 第一个命中的有效记录胜出，不做合并。超过 TTL 的记录视为不存在并被删除。
// 写入总是同时写两级，失败只记录日志，内存中的状态始终是权威的。
package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/internal/model"
	pkgerrors "ShuttleSignup/pkg/errors"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/metrics"
)

const (
	// SharedKey 共享级使用的固定键
	SharedKey = "registration_flow_state"
	// DefaultTTL 记录有效期
	DefaultTTL = 24 * time.Hour

	sessionKeyPrefix = "registration_flow_"
)

// KV 抽象的键值存储
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// SessionKey 会话级的键
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

type Option func(*Store)

// WithTTL 覆盖默认 24 小时有效期
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store 两级状态存储
type Store struct {
	session KV
	shared  KV
	ttl     time.Duration
	now     func() time.Time

	mu            sync.Mutex
	lastSessionID string
}

func New(session, shared KV, opts ...Option) *Store {
	s := &Store{
		session: session,
		shared:  shared,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save 序列化完整状态写入两级存储，LastSavedAt 由调用方打好
// 返回的错误只用于统计，调用方不应因此阻断内存中的更新
func (s *Store) Save(ctx context.Context, state model.FlowState) error {
	s.remember(state.SessionID)

	data, err := json.Marshal(state.ToRecord())
	if err != nil {
		return fmt.Errorf("%w: marshal flow record: %v", pkgerrors.FlowStorage, err)
	}

	var errs []error
	if state.SessionID != "" {
		if err := s.session.Set(ctx, SessionKey(state.SessionID), data); err != nil {
			errs = append(errs, fmt.Errorf("session tier: %w", err))
		}
	}
	if err := s.shared.Set(ctx, SharedKey, data); err != nil {
		errs = append(errs, fmt.Errorf("shared tier: %w", err))
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", pkgerrors.FlowStorage, errors.Join(errs...))
		logger.Logger.Warn("Failed to persist registration flow",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
		metrics.GetMetrics().RecordFlowSave(ctx, "failed")
		return err
	}

	metrics.GetMetrics().RecordFlowSave(ctx, "success")
	return nil
}

// Load 按优先级读取记录，返回是否找到有效且未过期的记录
func (s *Store) Load(ctx context.Context, sessionID string) (model.FlowState, bool) {
	if sessionID != "" {
		s.remember(sessionID)
		if state, ok := s.loadTier(ctx, s.session, SessionKey(sessionID), "session"); ok {
			metrics.GetMetrics().RecordFlowLoad(ctx, "session")
			return state, true
		}
	}

	if state, ok := s.loadTier(ctx, s.shared, SharedKey, "shared"); ok {
		s.remember(state.SessionID)
		metrics.GetMetrics().RecordFlowLoad(ctx, "shared")
		return state, true
	}

	metrics.GetMetrics().RecordFlowLoad(ctx, "miss")
	return model.FlowState{}, false
}

// Clear 删除当前或最近一次会话在两级中的键
func (s *Store) Clear(ctx context.Context, sessionID string) {
	if sessionID == "" {
		sessionID = s.LastSessionID()
	}

	if sessionID != "" {
		if err := s.session.Remove(ctx, SessionKey(sessionID)); err != nil {
			logger.Logger.Warn("Failed to clear session tier",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
	if err := s.shared.Remove(ctx, SharedKey); err != nil {
		logger.Logger.Warn("Failed to clear shared tier", zap.Error(err))
	}
}

// LastSessionID 最近一次读写涉及的会话
func (s *Store) LastSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSessionID
}

// Expired 记录是否已超过有效期，没有时间戳的记录无法判断新鲜度，按过期处理
func (s *Store) Expired(lastSavedAt *time.Time) bool {
	if lastSavedAt == nil {
		return true
	}
	return s.now().Sub(*lastSavedAt) > s.ttl
}

func (s *Store) loadTier(ctx context.Context, kv KV, key, tier string) (model.FlowState, bool) {
	data, found, err := kv.Get(ctx, key)
	if err != nil {
		logger.Logger.Warn("Failed to read registration flow",
			zap.String("tier", tier),
			zap.Error(err),
		)
		metrics.GetMetrics().RecordFlowLoad(ctx, "error")
		return model.FlowState{}, false
	}
	if !found {
		return model.FlowState{}, false
	}

	var record model.FlowRecord
	if err := json.Unmarshal(data, &record); err != nil {
		logger.Logger.Warn("Discarding unreadable registration flow",
			zap.String("tier", tier),
			zap.Error(err),
		)
		s.discard(ctx, kv, key, tier)
		return model.FlowState{}, false
	}

	if s.Expired(record.LastSavedAt) {
		logger.Logger.Debug("Discarding expired registration flow",
			zap.String("tier", tier),
			zap.String("session_id", record.SessionID),
		)
		metrics.GetMetrics().RecordFlowLoad(ctx, "expired")
		s.discard(ctx, kv, key, tier)
		return model.FlowState{}, false
	}

	return record.ToState(), true
}

func (s *Store) discard(ctx context.Context, kv KV, key, tier string) {
	if err := kv.Remove(ctx, key); err != nil {
		logger.Logger.Warn("Failed to remove stale registration flow",
			zap.String("tier", tier),
			zap.Error(err),
		)
	}
}

func (s *Store) remember(sessionID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	s.lastSessionID = sessionID
	s.mu.Unlock()
}
