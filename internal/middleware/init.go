package middleware

import (
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"ShuttleSignup/pkg/logger"
)

// Init 初始化中间件依赖的全局资源
func Init(otelEnabled bool) error {
	if otelEnabled {
		if err := InitMetrics(otel.Meter("hertz-server")); err != nil {
			logger.Logger.Error("Failed to initialize HTTP metrics", zap.Error(err))
			return err
		}
	}

	logger.Logger.Info("All middlewares initialized successfully")
	return nil
}
