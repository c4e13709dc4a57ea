package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/storage/database"
	"ShuttleSignup/storage/mq"
	"ShuttleSignup/storage/redis"
)

// Close 依次关闭 MQ、Redis、数据库；未初始化的连接直接跳过
func Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Logger.Info("Closing storage connections...")

	closers := []struct {
		name  string
		close func(context.Context) error
	}{
		{"message queue", mq.Close},
		{"redis", redis.Close},
		{"database", database.Close},
	}
	for _, c := range closers {
		if err := c.close(ctx); err != nil {
			logger.Logger.Error("Failed to close storage connection", zap.String("name", c.name), zap.Error(err))
			continue
		}
		logger.Logger.Info("Storage connection closed", zap.String("name", c.name))
	}

	logger.Logger.Info("All storage connections closed")
}
