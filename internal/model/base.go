package model

import (
	"time"
)

// BaseModel 主键由 snowflake 生成；占座记录释放时物理删除，不做软删除
type BaseModel struct {
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
}
