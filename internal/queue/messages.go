package queue

import "ShuttleSignup/internal/model"

// 出站消息的 routing key，下游按前缀绑定队列
const (
	RoutingRegistrationSubmitted = "registration.submitted"
)

// seatRoutingKey 座位事件的 routing key 与事件类型一致
func seatRoutingKey(t model.SeatEventType) string {
	return string(t)
}

// 消息 ID 前缀
const (
	registrationIDPrefix = "reg_submitted"
	seatIDPrefix         = "seat_event"
)
