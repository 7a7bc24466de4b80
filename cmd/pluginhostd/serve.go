package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"PluginHost/internal/api"
	"PluginHost/internal/observability/metrics"
	"PluginHost/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot every plugin pipeline and serve the management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			h, err := newHost(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			return serve(cmd.Context(), h)
		},
	}
}

func serve(ctx context.Context, h *host) error {
	log := logger.L()

	if h.cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, h.cfg.Metrics.Address, h.metrics.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	// 管理接口不等待插件钩子，挂起的插件不会阻塞启动。
	boot := h.manager.StartPlugins(ctx)
	go func() {
		if boot.Wait(ctx) == nil {
			log.Info("全部插件钩子已完成")
		}
	}()

	server := api.NewServer(h.cfg.Server.Address, h.manager, h.metrics, logger.Named("api")).
		WithMusicSources(h.sources).
		WithTokens(h.cfg.Server.Tokens)
	log.Info("管理接口已启动", slog.String("address", h.cfg.Server.Address))
	serveErr := server.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.manager.StopPlugins(stopCtx).Wait(stopCtx); err != nil {
		log.Warn("停止插件超时", slog.Any("error", err))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
