package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// HTTP 相关指标
	httpServerRequestTotal   metric.Int64Counter
	httpServerDuration       metric.Float64Histogram
	httpServerRequestSize    metric.Int64Histogram
	httpServerResponseSize   metric.Int64Histogram
	httpServerActiveRequests metric.Int64UpDownCounter
	httpServerBusinessErrors metric.Int64Counter
)

// toValidUTF8 统一清洗用户可控字符串，防止非法 UTF-8 触发指标/trace 序列化失败
func toValidUTF8(val string) string {
	return strings.ToValidUTF8(val, "")
}

// InitMetrics 初始化指标
func InitMetrics(meter metric.Meter) error {
	var err error

	// HTTP 请求总数
	httpServerRequestTotal, err = meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	// HTTP 请求耗时
	httpServerDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	// HTTP 请求大小
	httpServerRequestSize, err = meter.Int64Histogram(
		"http.server.request.size",
		metric.WithDescription("HTTP request size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	// HTTP 响应大小
	httpServerResponseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("HTTP response size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	// 活跃请求数
	httpServerActiveRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	httpServerBusinessErrors, err = meter.Int64Counter(
		"http.server.business_errors",
		metric.WithDescription("Error responses by route and error code"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// OpenTelemetryMiddleware 请求级 span 与 HTTP 指标
// 向导会话 ID 在分组中间件里才写入上下文，所以会话属性在请求结束后补上
func OpenTelemetryMiddleware() app.HandlerFunc {
	tracer := otel.Tracer("hertz-server")

	return func(ctx context.Context, c *app.RequestContext) {
		startTime := time.Now()

		// 指标未初始化时只做追踪
		recordMetrics := httpServerActiveRequests != nil
		if recordMetrics {
			httpServerActiveRequests.Add(ctx, 1)
			defer httpServerActiveRequests.Add(ctx, -1)
		}

		method := toValidUTF8(string(c.Method()))
		path := toValidUTF8(string(c.Path()))

		spanCtx, span := tracer.Start(ctx, method+" "+path, trace.WithAttributes(
			semconv.HTTPMethod(method),
			semconv.HTTPURL(toValidUTF8(c.Request.URI().String())),
			semconv.HTTPScheme(toValidUTF8(string(c.Request.URI().Scheme()))),
			attribute.String("http.host", toValidUTF8(string(c.Host()))),
			attribute.String("http.user_agent", toValidUTF8(string(c.UserAgent()))),
		))
		defer span.End()

		if requestID := c.GetHeader("X-Request-Id"); len(requestID) > 0 {
			span.SetAttributes(attribute.String("http.request_id", toValidUTF8(string(requestID))))
		}

		c.Next(spanCtx)

		duration := time.Since(startTime).Seconds()
		statusCode := c.Response.StatusCode()
		route := c.FullPath()

		span.SetName(method + " " + route)
		span.SetAttributes(
			semconv.HTTPRoute(route),
			semconv.HTTPStatusCode(statusCode),
			attribute.Float64("http.duration", duration),
		)
		span.SetAttributes(wizardAttributes(c)...)

		errorCode := ""
		if statusCode >= 400 {
			errorCode = gjson.GetBytes(c.Response.Body(), "error.code").String()
			span.SetAttributes(attribute.String("shuttle.error_code", errorCode))
			span.SetStatus(codes.Error, errorCode)
			if lastErr := c.Errors.Last(); lastErr != nil && statusCode >= 500 {
				span.RecordError(lastErr)
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if !recordMetrics {
			return
		}

		labels := []attribute.KeyValue{
			semconv.HTTPMethod(method),
			semconv.HTTPRoute(route),
			semconv.HTTPStatusCode(statusCode),
		}
		httpServerRequestTotal.Add(ctx, 1, metric.WithAttributes(labels...))
		httpServerDuration.Record(ctx, duration, metric.WithAttributes(labels...))

		// 409 冲突、404 过期上车点等按错误码单独计数
		if errorCode != "" {
			httpServerBusinessErrors.Add(ctx, 1, metric.WithAttributes(
				semconv.HTTPRoute(route),
				attribute.String("code", errorCode),
			))
		}

		if requestSize := int64(c.Request.Header.ContentLength()); requestSize > 0 {
			httpServerRequestSize.Record(ctx, requestSize, metric.WithAttributes(labels...))
		}
		if responseSize := int64(len(c.Response.Body())); responseSize > 0 {
			httpServerResponseSize.Record(ctx, responseSize, metric.WithAttributes(labels...))
		}
	}
}

// wizardAttributes 设备、会话和路由参数中的步骤、上车点
func wizardAttributes(c *app.RequestContext) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if deviceID := c.GetString(deviceIDKey); deviceID != "" {
		attrs = append(attrs, attribute.String("shuttle.device_id", toValidUTF8(deviceID)))
	}
	if sessionID := c.GetString(sessionIDKey); sessionID != "" {
		attrs = append(attrs, attribute.String("shuttle.session_id", toValidUTF8(sessionID)))
	}
	if step := c.Param("step"); step != "" {
		attrs = append(attrs, attribute.String("shuttle.step", toValidUTF8(step)))
	}
	if id := c.Param("id"); id != "" {
		attrs = append(attrs, attribute.String("shuttle.pickup_location_id", toValidUTF8(id)))
	}
	return attrs
}

// NewServerTracerConfig 创建 Hertz Server 的追踪配置
// 返回用于初始化 Hertz server 的配置选项和追踪中间件
func NewServerTracerConfig(opts ...hertztracing.Option) (config.Option, app.HandlerFunc) {
	tracer, cfg := hertztracing.NewServerTracer(opts...)
	return tracer, hertztracing.ServerMiddleware(cfg)
}
