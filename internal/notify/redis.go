package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "PluginHost/internal/errors"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

// RedisSink 以 JSON 形式将事件 PUBLISH 到 Redis 频道，供前端网关订阅。
type RedisSink struct {
	client  publisher
	closer  func() error
	channel string
}

// NewRedisSink 连接 Redis 并校验连通性。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	sink := newRedisSink(client, cfg.Channel)
	sink.closer = client.Close
	return sink, nil
}

func newRedisSink(client publisher, channel string) *RedisSink {
	if channel == "" {
		channel = "pluginhost:notifications"
	}
	return &RedisSink{client: client, channel: channel}
}

// Channel 返回 Redis 渠道。
func (s *RedisSink) Channel() Channel { return ChannelRedis }

// Send 发布事件。
func (s *RedisSink) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCodecFailure, err, "编码通知失败")
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeNotifyFailure, err, "发布 Redis 通知失败",
			apperrors.WithMetadata("channel", s.channel))
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
