package notify

import (
	"context"
	"fmt"
	"log/slog"

	"PluginHost/internal/config"
)

// Open 按配置创建各通知渠道。任一渠道初始化失败时关闭已创建的渠道。
func Open(ctx context.Context, cfg config.NotifyConfig, log *slog.Logger) (*FanoutDispatcher, error) {
	var sinks []Sink
	closeAll := func() { _ = NewFanout(sinks...).Close() }
	for _, driver := range cfg.Drivers {
		switch Channel(driver) {
		case ChannelLog:
			sinks = append(sinks, &LogSink{Logger: log})
		case ChannelRedis:
			sink, err := NewRedisSink(ctx, RedisConfig{
				Address:  cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Channel:  cfg.Redis.Channel,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, sink)
		case ChannelRabbitMQ:
			sink, err := NewRabbitMQSink(RabbitMQConfig{
				URL:        cfg.RabbitMQ.URL,
				Exchange:   cfg.RabbitMQ.Exchange,
				RoutingKey: cfg.RabbitMQ.RoutingKey,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, sink)
		default:
			closeAll()
			return nil, fmt.Errorf("未知的通知驱动: %s", driver)
		}
	}
	return NewFanout(sinks...), nil
}
