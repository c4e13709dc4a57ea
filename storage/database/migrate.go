package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ShuttleSignup/internal/model"
	"ShuttleSignup/pkg/logger"
)

// Migrate 创建上车点与占座记录表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.SeatResource{},
		&model.SeatAssignment{},
	)
	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
