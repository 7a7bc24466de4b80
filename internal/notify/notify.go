package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "PluginHost/internal/errors"
	"PluginHost/pkg/plugin"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelRedis    Channel = "redis"
	ChannelRabbitMQ Channel = "rabbitmq"
)

// Event 是投递到外部通道的消息体。
type Event struct {
	ID         string    `json:"id"`
	Level      string    `json:"level"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Category   string    `json:"category,omitempty"`
	Name       string    `json:"name,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink 负责将事件发送到指定渠道。
type Sink interface {
	Channel() Channel
	Send(ctx context.Context, event Event) error
}

// FanoutDispatcher 将提示广播给多个通道，实现 plugin.Notifier。
type FanoutDispatcher struct {
	sinks []Sink
	now   func() time.Time
	newID func() string
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个。
func NewFanout(sinks ...Sink) *FanoutDispatcher {
	set := make(map[Channel]Sink, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		set[s.Channel()] = s
	}
	ordered := make([]Sink, 0, len(set))
	for _, s := range set {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Channel() < ordered[j].Channel() })
	return &FanoutDispatcher{sinks: ordered, now: time.Now, newID: uuid.NewString}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	out := make([]Channel, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s.Channel())
	}
	return out
}

// Notify 将提示广播至所有注册渠道，单个渠道失败不影响其余渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, n plugin.Notification) error {
	if d == nil || len(d.sinks) == 0 {
		return nil
	}
	event := Event{
		ID:         d.newID(),
		Level:      n.Level,
		Title:      n.Title,
		Message:    n.Message,
		Category:   n.Category,
		Name:       n.Name,
		OccurredAt: d.now().UTC(),
	}
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", sink.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return apperrors.Wrap(apperrors.CodeNotifyFailure, errors.Join(errs...), "",
			apperrors.WithMetadata("event_id", event.ID))
	}
	return nil
}

// Close 关闭持有连接的渠道。
func (d *FanoutDispatcher) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, sink := range d.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// LogSink 将提示写入结构化日志。
type LogSink struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (s *LogSink) Channel() Channel { return ChannelLog }

// Send 按提示级别选择日志级别。
func (s *LogSink) Send(ctx context.Context, event Event) error {
	if s == nil || s.Logger == nil {
		return nil
	}
	level := slog.LevelInfo
	switch event.Level {
	case plugin.LevelWarning:
		level = slog.LevelWarn
	case plugin.LevelError:
		level = slog.LevelError
	}
	s.Logger.Log(ctx, level, "toast",
		slog.String("id", event.ID),
		slog.String("title", event.Title),
		slog.String("message", event.Message),
		slog.String("category", event.Category),
		slog.String("name", event.Name),
	)
	return nil
}
