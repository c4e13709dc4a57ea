package model

// RegistrationSubmittedMessage 报名提交后发出的消息，由外部通知服务消费
type RegistrationSubmittedMessage struct {
	MessageID      string              `json:"message_id"` // 消息唯一ID，用于幂等性检查
	SessionID      string              `json:"session_id"`
	ParticipantRef string              `json:"participant_ref"`
	Role           Role                `json:"role"`
	EventID        string              `json:"event_id"`
	PersonalInfo   PersonalInfo        `json:"personal_info"`
	Transport      *TransportSelection `json:"transport,omitempty"`
	SubmittedAt    string              `json:"submitted_at"`
}

// SeatEventType 座位事件类型
type SeatEventType string

const (
	SeatEventReserved       SeatEventType = "seat.reserved"
	SeatEventReleased       SeatEventType = "seat.released"
	SeatEventTransferFailed SeatEventType = "seat.transfer_failed"
)

// SeatEventMessage 座位变更事件
type SeatEventMessage struct {
	MessageID      string        `json:"message_id"`
	Type           SeatEventType `json:"type"`
	ResourceID     string        `json:"resource_id"`
	EventID        string        `json:"event_id,omitempty"`
	ParticipantRef string        `json:"participant_ref"`
	ReservedCount  int           `json:"reserved_count"`
	Capacity       int           `json:"capacity"`
	OccurredAt     string        `json:"occurred_at"`
}
