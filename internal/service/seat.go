package service

import (
	"ShuttleSignup/internal/seat"
)

var seatInventory *seat.Inventory

// InitSeats 启动时注入名额服务
func InitSeats(inv *seat.Inventory) {
	seatInventory = inv
}

func Seats() *seat.Inventory {
	if seatInventory == nil {
		panic("seat inventory not initialized")
	}
	return seatInventory
}
