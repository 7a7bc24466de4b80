package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"PluginHost/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "PLUGINHOST_CONFIG"

// DefaultPath 为未显式指定时的配置文件位置。
const DefaultPath = "configs/pluginhost.json"

// Config 描述了插件宿主在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  logger.Config  `json:"logging"`
	Settings SettingsConfig `json:"settings"`
	Notify   NotifyConfig   `json:"notify"`
	I18n     I18nConfig     `json:"i18n"`
	Plugins  PluginsConfig  `json:"plugins"`
}

// ServerConfig 控制管理 API 的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
	// Tokens 非空时，启动与停止接口需要携带其中之一作为 Bearer 令牌。
	Tokens []string `json:"tokens"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// SettingsConfig 选择插件配置存储的后端。
type SettingsConfig struct {
	// Driver 可选 memory、file、redis、mysql。
	Driver string      `json:"driver"`
	File   FileConfig  `json:"file"`
	Redis  RedisConfig `json:"redis"`
	MySQL  MySQLConfig `json:"mysql"`
}

// FileConfig 指向 v-conf 格式的 plugins.json。
type FileConfig struct {
	Path string `json:"path"`
}

// RedisConfig 描述 Redis 连接信息，配置存储与通知共用。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	Channel  string `json:"channel"`
}

// MySQLConfig 描述 MySQL 连接信息，表结构由内置迁移维护。
type MySQLConfig struct {
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// NotifyConfig 列出需要启用的通知通道。
type NotifyConfig struct {
	// Drivers 可包含 log、redis、rabbitmq。
	Drivers  []string       `json:"drivers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述通知交换机。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// I18nConfig 指定用户可见文案的语言。
type I18nConfig struct {
	Locale string `json:"locale"`
}

// PluginsConfig 指向插件管理器的 YAML 配置。为空时使用内置默认值。
type PluginsConfig struct {
	ManagerConfig string `json:"manager_config"`
}

// ResolvePath 依次使用命令行参数、环境变量与默认值确定配置路径。
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9102"
	}

	if c.Settings.Driver == "" {
		c.Settings.Driver = "memory"
	}
	if c.Settings.File.Path == "" {
		c.Settings.File.Path = filepath.Join(baseDir, "data", "plugins.json")
	} else if !filepath.IsAbs(c.Settings.File.Path) {
		c.Settings.File.Path = filepath.Join(baseDir, c.Settings.File.Path)
	}
	if c.Settings.Redis.Addr == "" {
		c.Settings.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Settings.Redis.Key == "" {
		c.Settings.Redis.Key = "pluginhost:settings"
	}

	if len(c.Notify.Drivers) == 0 {
		c.Notify.Drivers = []string{"log"}
	}
	if c.Notify.Redis.Addr == "" {
		c.Notify.Redis.Addr = c.Settings.Redis.Addr
	}
	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = "pluginhost:notifications"
	}
	if c.Notify.RabbitMQ.Exchange == "" {
		c.Notify.RabbitMQ.Exchange = "pluginhost.notifications"
	}
	if c.Notify.RabbitMQ.RoutingKey == "" {
		c.Notify.RabbitMQ.RoutingKey = "toast"
	}

	if c.I18n.Locale == "" {
		c.I18n.Locale = "en"
	}

	if c.Plugins.ManagerConfig != "" && !filepath.IsAbs(c.Plugins.ManagerConfig) {
		c.Plugins.ManagerConfig = filepath.Join(baseDir, c.Plugins.ManagerConfig)
	}
}

// Validate 检查后端选择是否可用。
func (c *Config) Validate() error {
	switch c.Settings.Driver {
	case "memory", "file", "redis":
	case "mysql":
		if c.Settings.MySQL.DSN == "" {
			return errors.New("settings.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的 settings.driver: %s", c.Settings.Driver)
	}
	for _, driver := range c.Notify.Drivers {
		if !slices.Contains([]string{"log", "redis", "rabbitmq"}, driver) {
			return fmt.Errorf("未知的 notify 驱动: %s", driver)
		}
		if driver == "rabbitmq" && c.Notify.RabbitMQ.URL == "" {
			return errors.New("notify.rabbitmq.url 不能为空")
		}
	}
	return nil
}
