package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"PluginHost/internal/config"
	"PluginHost/internal/i18n"
	"PluginHost/internal/notify"
	"PluginHost/internal/observability/metrics"
	"PluginHost/internal/settings"
	"PluginHost/pkg/logger"
	"PluginHost/pkg/plugin"
)

// host 汇总一次运行所需的全部组件。
type host struct {
	cfg     *config.Config
	manager *plugin.Manager
	sources *plugin.MusicSources
	metrics *metrics.Collector
	closers []func() error
}

func (h *host) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadConfig 读取配置文件。未显式指定且默认文件不存在时使用内置默认值。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flag, _ := cmd.Flags().GetString(configFlag)
	path := config.ResolvePath(flag)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if flag == "" && os.Getenv(config.EnvPath) == "" {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return nil, err
}

func loadManagerConfig(cfg *config.Config) (plugin.ManagerConfig, error) {
	if cfg.Plugins.ManagerConfig == "" {
		return plugin.DefaultManagerConfig(), nil
	}
	return plugin.LoadManagerConfig(cfg.Plugins.ManagerConfig)
}

// newHost 按配置初始化日志、存储、通知与插件管理器。
func newHost(ctx context.Context, cfg *config.Config) (*host, error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	h := &host{cfg: cfg, closers: []func() error{logger.Sync}}

	store, closeStore, err := settings.Open(ctx, cfg.Settings)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.closers = append(h.closers, closeStore)

	notifier, err := notify.Open(ctx, cfg.Notify, logger.Named("notify"))
	if err != nil {
		h.Close()
		return nil, err
	}
	h.closers = append(h.closers, notifier.Close)

	translator, err := i18n.New(cfg.I18n.Locale)
	if err != nil {
		h.Close()
		return nil, err
	}

	mcfg, err := loadManagerConfig(cfg)
	if err != nil {
		h.Close()
		return nil, err
	}

	h.sources = plugin.NewMusicSources()
	h.metrics = metrics.NewCollector()
	manager, err := plugin.NewManager(mcfg, plugin.Services{
		Store:        store,
		Notifier:     notifier,
		Translator:   translator,
		Resolver:     plugin.ChainResolver{builtinPlugins(), plugin.GoPluginResolver{}},
		MusicSources: h.sources,
		Logger:       logger.Named("plugin"),
		Audit:        logger.Audit(),
	},
		plugin.WithObserver(h.metrics),
		plugin.WithResource(plugin.ResourceMusicSources, h.sources),
	)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.manager = manager

	logger.L().Info("插件宿主初始化完成",
		slog.String("run", manager.RunID()),
		slog.String("settings", cfg.Settings.Driver),
		slog.Any("notify", cfg.Notify.Drivers),
		slog.String("locale", translator.Language().String()),
	)
	return h, nil
}

// builtinPlugins 返回编译进宿主的插件构造器，当前为空，插件均以 plugin.so 形式分发。
func builtinPlugins() *plugin.FactoryResolver {
	return plugin.NewFactoryResolver()
}
