package schedule

// 会话回收：定期把长时间没有请求的报名会话写回存储并移出内存

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/pkg/logger"
)

// Evictor 由 service.RegistrationService 实现
type Evictor interface {
	EvictIdle(ctx context.Context) int
}

type SessionJanitor struct {
	evictor  Evictor
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	lastSweep time.Time
}

func NewSessionJanitor(evictor Evictor, interval time.Duration) *SessionJanitor {
	return &SessionJanitor{
		evictor:  evictor,
		interval: interval,
		logger:   logger.Logger,
	}
}

// Run 按固定间隔回收，直到 ctx 取消
func (j *SessionJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Session janitor started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Session janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep 执行一次回收，上一次还没结束时跳过
func (j *SessionJanitor) Sweep(ctx context.Context) int {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Debug("Session sweep already running, skipping")
		return 0
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	evicted := j.evictor.EvictIdle(ctx)

	j.mu.Lock()
	j.lastSweep = start
	j.mu.Unlock()

	if evicted > 0 {
		j.logger.Info("Session sweep completed",
			zap.Int("evicted", evicted),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return evicted
}

// LastSweep 最近一次回收的开始时间
func (j *SessionJanitor) LastSweep() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSweep
}
