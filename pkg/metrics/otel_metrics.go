package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 座位相关指标
	SeatReservationsTotal metric.Int64Counter
	SeatReleasesTotal     metric.Int64Counter
	SeatTransfersTotal    metric.Int64Counter
	SeatReserveDuration   metric.Float64Histogram

	// 报名流程相关指标
	FlowSavesTotal       metric.Int64Counter
	FlowResumesTotal     metric.Int64Counter
	FlowSubmissionsTotal metric.Int64Counter
	FlowActiveSessions   metric.Int64UpDownCounter
}

var (
	// 全局指标实例，未初始化时为 nil，所有记录方法对 nil 安全
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("shuttle-signup")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	var err error

	m := &OTelMetrics{}

	m.SeatReservationsTotal, err = meter.Int64Counter(
		"seat_reservations_total",
		metric.WithDescription("Total number of seat reservation attempts by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	m.SeatReleasesTotal, err = meter.Int64Counter(
		"seat_releases_total",
		metric.WithDescription("Total number of seat releases"),
		metric.WithUnit("{release}"),
	)
	if err != nil {
		return err
	}

	m.SeatTransfersTotal, err = meter.Int64Counter(
		"seat_transfers_total",
		metric.WithDescription("Total number of seat transfers by result"),
		metric.WithUnit("{transfer}"),
	)
	if err != nil {
		return err
	}

	m.SeatReserveDuration, err = meter.Float64Histogram(
		"seat_reserve_duration_seconds",
		metric.WithDescription("Time spent in the atomic reserve call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	m.FlowSavesTotal, err = meter.Int64Counter(
		"flow_saves_total",
		metric.WithDescription("Total number of registration flow saves by status"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return err
	}

	m.FlowResumesTotal, err = meter.Int64Counter(
		"flow_resumes_total",
		metric.WithDescription("Total number of registration flow load attempts by outcome"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return err
	}

	m.FlowSubmissionsTotal, err = meter.Int64Counter(
		"flow_submissions_total",
		metric.WithDescription("Total number of submitted registrations"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return err
	}

	m.FlowActiveSessions, err = meter.Int64UpDownCounter(
		"flow_active_sessions",
		metric.WithDescription("Number of registration sessions held in memory"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	metrics = m
	return nil
}

// GetMetrics 获取全局指标实例
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordReservation 记录一次预约尝试，result: ok, conflict, not_found, error
func (m *OTelMetrics) RecordReservation(ctx context.Context, backend, result string, duration float64) {
	if m == nil {
		return
	}
	m.SeatReservationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("result", result),
	))
	m.SeatReserveDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("backend", backend),
	))
}

// RecordRelease 记录释放，released 表示是否真正归还了名额
func (m *OTelMetrics) RecordRelease(ctx context.Context, backend string, released bool) {
	if m == nil {
		return
	}
	m.SeatReleasesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("released", released),
	))
}

// RecordTransfer 记录换乘点变更
func (m *OTelMetrics) RecordTransfer(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.SeatTransfersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordFlowSave 记录流程状态保存，status: success, failed
func (m *OTelMetrics) RecordFlowSave(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.FlowSavesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordFlowLoad 记录流程状态加载，outcome: session, shared, expired, miss, error
func (m *OTelMetrics) RecordFlowLoad(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.FlowResumesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordSubmission 记录报名提交
func (m *OTelMetrics) RecordSubmission(ctx context.Context, role string, withTransport bool) {
	if m == nil {
		return
	}
	m.FlowSubmissionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Bool("transport", withTransport),
	))
}

// AddActiveSession 调整内存中的会话数
func (m *OTelMetrics) AddActiveSession(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.FlowActiveSessions.Add(ctx, delta)
}
