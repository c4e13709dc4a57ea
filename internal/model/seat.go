package model

import (
	"time"
)

// GeoPoint 上车点坐标
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SeatResource 一个活动下固定容量的接驳上车点
// 不变式：0 <= ReservedCount <= Capacity；Capacity 创建后不可修改；
// ReservedCount 只能通过 reserve/release 改变
type SeatResource struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EventID       string    `gorm:"type:varchar(64);not null;index:idx_seat_resources_event_pickup,priority:1" json:"event_id"`
	Label         string    `gorm:"type:varchar(128);not null" json:"label"`
	Address       string    `gorm:"type:varchar(255);not null;default:''" json:"address"`
	PickupTime    time.Time `gorm:"not null;index:idx_seat_resources_event_pickup,priority:2" json:"pickup_time"`
	Capacity      int       `gorm:"not null;check:chk_seat_capacity,capacity >= 0" json:"capacity"`
	ReservedCount int       `gorm:"not null;default:0;check:chk_seat_reserved,reserved_count >= 0 AND reserved_count <= capacity" json:"reserved_count"`
	Lat           float64   `gorm:"not null;default:0" json:"-"`
	Lng           float64   `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"-"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"-"`
}

// TableName 指定表名
func (SeatResource) TableName() string {
	return "seat_resources"
}

// Geolocation 坐标
func (r SeatResource) Geolocation() GeoPoint {
	return GeoPoint{Lat: r.Lat, Lng: r.Lng}
}

// Available 读时刻是否还有空位，仅供参考
func (r SeatResource) Available() bool {
	return r.ReservedCount < r.Capacity
}

// Remaining 剩余名额
func (r SeatResource) Remaining() int {
	if r.ReservedCount >= r.Capacity {
		return 0
	}
	return r.Capacity - r.ReservedCount
}

// SeatAssignment 报名者与上车点的关联，每个报名者在一个上车点最多占一个名额
type SeatAssignment struct {
	BaseModel
	ResourceID     string `gorm:"type:varchar(64);not null;uniqueIndex:uk_seat_assignment,priority:1" json:"resource_id"`
	ParticipantRef string `gorm:"type:varchar(128);not null;uniqueIndex:uk_seat_assignment,priority:2" json:"participant_ref"`
}

// TableName 指定表名
func (SeatAssignment) TableName() string {
	return "seat_assignments"
}
