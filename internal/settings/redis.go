package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	apperrors "PluginHost/internal/errors"
)

// hashClient 是 RedisStore 依赖的最小命令集合，*redis.Client 满足该接口。
type hashClient interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// RedisConfig 描述 Redis 配置存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key 为保存全部配置的哈希表名称。
	Key string
}

// RedisStore 将配置保存在单个 Redis 哈希中，字段为配置键，值为 JSON。
type RedisStore struct {
	client hashClient
	closer func() error
	key    string
}

// NewRedisStore 连接 Redis 并校验连通性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
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
	store := newRedisStore(client, cfg.Key)
	store.closer = client.Close
	return store, nil
}

func newRedisStore(client hashClient, key string) *RedisStore {
	if key == "" {
		key = "pluginhost:settings"
	}
	return &RedisStore{client: client, key: key}
}

// Get 返回配置值，字段不存在时返回 nil。
func (s *RedisStore) Get(ctx context.Context, key string) (any, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	raw, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取 Redis 配置失败",
			apperrors.WithMetadata("key", key))
	}
	return decodeValue(key, raw)
}

// Set 写入配置值。
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	raw, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, key, raw).Err(); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入 Redis 配置失败",
			apperrors.WithMetadata("key", key))
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
