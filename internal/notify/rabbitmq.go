package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "PluginHost/internal/errors"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQConfig 描述通知交换机的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// RabbitMQSink 将事件发布到 topic 交换机，路由键为 "<RoutingKey>.<level>"。
type RabbitMQSink struct {
	ch         amqpPublisher
	closers    []func() error
	exchange   string
	routingKey string
}

// NewRabbitMQSink 连接 RabbitMQ 并声明交换机。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "pluginhost.notifications"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	sink := newRabbitMQSink(ch, exchange, cfg.RoutingKey)
	sink.closers = []func() error{ch.Close, conn.Close}
	return sink, nil
}

func newRabbitMQSink(ch amqpPublisher, exchange, routingKey string) *RabbitMQSink {
	if routingKey == "" {
		routingKey = "toast"
	}
	return &RabbitMQSink{ch: ch, exchange: exchange, routingKey: routingKey}
}

// Channel 返回 RabbitMQ 渠道。
func (s *RabbitMQSink) Channel() Channel { return ChannelRabbitMQ }

// Send 以持久化消息发布事件。
func (s *RabbitMQSink) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCodecFailure, err, "编码通知失败")
	}
	key := s.routingKey
	if event.Level != "" {
		key += "." + event.Level
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotifyFailure, err, "发布 RabbitMQ 通知失败",
			apperrors.WithMetadata("exchange", s.exchange), apperrors.WithMetadata("routing_key", key))
	}
	return nil
}

// Close 依次关闭 channel 与连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
