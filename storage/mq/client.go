package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ShuttleSignup/config"
	"ShuttleSignup/pkg/logger"
)

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

// Init 建立连接并声明出站 topic exchange
func Init() error {
	connOnce.Do(func() {
		cfg := config.Cfg

		conn, connErr = amqp.Dial(cfg.GetRabbitMQURL())
		if connErr != nil {
			return
		}

		ch, err := conn.Channel()
		if err != nil {
			connErr = fmt.Errorf("failed to open setup channel: %w", err)
			return
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare(
			cfg.RabbitMQExchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			connErr = fmt.Errorf("failed to declare exchange %s: %w", cfg.RabbitMQExchange, err)
			return
		}

		logger.Logger.Info("RabbitMQ connected",
			zap.String("exchange", cfg.RabbitMQExchange),
		)
	})

	return connErr
}

// Connection 未初始化时返回 nil
func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	pubMutex.Lock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		_ = publisherCh.Close()
	}
	publisherCh = nil
	pubMutex.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
