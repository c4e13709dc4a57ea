package dto

import (
	"time"

	"ShuttleSignup/internal/model"
)

// PickupLocationItem 上车点展示数据
type PickupLocationItem struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event_id"`
	Label         string         `json:"label"`
	Address       string         `json:"address"`
	PickupTime    time.Time      `json:"pickup_time"`
	Capacity      int            `json:"capacity"`
	ReservedCount int            `json:"reserved_count"`
	Remaining     int            `json:"remaining"`
	Available     bool           `json:"available"`
	Geolocation   model.GeoPoint `json:"geolocation"`
}

// NewPickupLocationItem 由领域模型构造展示数据
func NewPickupLocationItem(r model.SeatResource) PickupLocationItem {
	return PickupLocationItem{
		ID:            r.ID,
		EventID:       r.EventID,
		Label:         r.Label,
		Address:       r.Address,
		PickupTime:    r.PickupTime,
		Capacity:      r.Capacity,
		ReservedCount: r.ReservedCount,
		Remaining:     r.Remaining(),
		Available:     r.Available(),
		Geolocation:   r.Geolocation(),
	}
}

// ToModel 还原为领域模型
func (p PickupLocationItem) ToModel() model.SeatResource {
	return model.SeatResource{
		ID:            p.ID,
		EventID:       p.EventID,
		Label:         p.Label,
		Address:       p.Address,
		PickupTime:    p.PickupTime,
		Capacity:      p.Capacity,
		ReservedCount: p.ReservedCount,
		Lat:           p.Geolocation.Lat,
		Lng:           p.Geolocation.Lng,
	}
}

// NewPickupLocationList 批量转换
func NewPickupLocationList(resources []model.SeatResource) []PickupLocationItem {
	items := make([]PickupLocationItem, 0, len(resources))
	for _, r := range resources {
		items = append(items, NewPickupLocationItem(r))
	}
	return items
}

// BatchPickupLocationsRequest 批量查询请求
type BatchPickupLocationsRequest struct {
	IDs []string `json:"ids" vd:"len($)>0"`
}

// ReserveSeatRequest 占座请求
type ReserveSeatRequest struct {
	ParticipantRef string `json:"participant_ref" vd:"len($)>0"`
}

// TransferSeatRequest 换乘点请求
type TransferSeatRequest struct {
	FromID         string `json:"from_id" vd:"len($)>0"`
	ToID           string `json:"to_id" vd:"len($)>0"`
	ParticipantRef string `json:"participant_ref" vd:"len($)>0"`
}

// TransferSeatData 换乘结果，失败时 Transport 为"不需要接驳"并带提示
type TransferSeatData struct {
	Location  *PickupLocationItem       `json:"location,omitempty"`
	Transport *model.TransportSelection `json:"transport"`
}

// ReleaseSeatData 释放结果，重复释放时 Released 为 false
type ReleaseSeatData struct {
	Released bool `json:"released"`
}
