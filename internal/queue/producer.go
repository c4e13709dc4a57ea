package queue

import (
	"context"

	"go.uber.org/zap"

	"ShuttleSignup/internal/model"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/pkg/snowflake"
)

// Sender 底层消息发送，由 storage/mq.Sender 实现
type Sender interface {
	Publish(ctx context.Context, routingKey, messageID string, body interface{}) error
}

// Producer 报名与座位事件的出站发布
type Producer struct {
	sender Sender
}

func NewProducer(sender Sender) *Producer {
	return &Producer{sender: sender}
}

// PublishRegistrationSubmitted 报名提交后发布，由外部通知服务消费
func (p *Producer) PublishRegistrationSubmitted(ctx context.Context, msg model.RegistrationSubmittedMessage) error {
	if msg.MessageID == "" {
		id, err := snowflake.NextMessageID(registrationIDPrefix)
		if err != nil {
			logger.Logger.Error("Failed to generate message ID",
				zap.String("session_id", msg.SessionID),
				zap.Error(err),
			)
			return err
		}
		msg.MessageID = id
	}

	if err := p.sender.Publish(ctx, RoutingRegistrationSubmitted, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish registration submitted message",
			zap.String("session_id", msg.SessionID),
			zap.String("event_id", msg.EventID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published registration submitted message",
		zap.String("message_id", msg.MessageID),
		zap.String("session_id", msg.SessionID),
		zap.String("event_id", msg.EventID),
		zap.Bool("transport", msg.Transport != nil && msg.Transport.Required),
	)
	return nil
}

// PublishSeatEvent 实现 seat.EventPublisher
func (p *Producer) PublishSeatEvent(ctx context.Context, msg model.SeatEventMessage) error {
	if msg.MessageID == "" {
		id, err := snowflake.NextMessageID(seatIDPrefix)
		if err != nil {
			return err
		}
		msg.MessageID = id
	}

	if err := p.sender.Publish(ctx, seatRoutingKey(msg.Type), msg.MessageID, msg); err != nil {
		return err
	}

	logger.Logger.Debug("Published seat event",
		zap.String("message_id", msg.MessageID),
		zap.String("type", string(msg.Type)),
		zap.String("resource_id", msg.ResourceID),
	)
	return nil
}
