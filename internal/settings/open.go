package settings

import (
	"context"
	"fmt"

	"PluginHost/internal/config"
	"PluginHost/pkg/plugin"
)

// Open 根据配置选择存储后端，返回存储及其关闭函数。
func Open(ctx context.Context, cfg config.SettingsConfig) (plugin.ConfigStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(nil), noop, nil
	case "file":
		store, err := NewFileStore(cfg.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "redis":
		store, err := NewRedisStore(ctx, RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "mysql":
		store, err := NewMySQLStore(ctx, MySQLConfig{
			DSN:          cfg.MySQL.DSN,
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.MySQL.MaxIdleConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("未知的配置存储驱动: %s", cfg.Driver)
	}
}
