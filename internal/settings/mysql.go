package settings

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	apperrors "PluginHost/internal/errors"
)

// MySQLConfig 描述 MySQL 配置存储的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 将配置保存在 plugin_settings 表中，值以 JSON 文本存储。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 建立连接池、校验连通性并执行迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "无法连接到 MySQL")
	}
	store := newMySQLStore(db)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Get 返回配置值，不存在时返回 nil。
func (s *MySQLStore) Get(ctx context.Context, key string) (any, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT setting_value FROM plugin_settings WHERE setting_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询配置失败",
			apperrors.WithMetadata("key", key))
	}
	return decodeValue(key, raw)
}

// Set 写入或覆盖配置值。
func (s *MySQLStore) Set(ctx context.Context, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	raw, err := encodeValue(key, value)
	if err != nil {
		return err
	}
	const upsert = `INSERT INTO plugin_settings (setting_key, setting_value, updated_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, upsert, key, raw, s.now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "保存配置失败",
			apperrors.WithMetadata("key", key), apperrors.WithRetryable(retryableMySQL(err)))
	}
	return nil
}

// Close 释放连接池。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// retryableMySQL 判断 MySQL 错误是否值得重试：死锁与锁等待超时可重试，其余不可。
func retryableMySQL(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213:
			return true
		}
		return false
	}
	return true
}
