package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Stage      string            `json:"stage,omitempty"`
	IntentID   string            `json:"intent_id,omitempty"`
	MandateID  string            `json:"mandate_id,omitempty"`
	Attempts   int               `json:"attempts"`
	MaxRetries int               `json:"max_retries"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入一条告警日志，级别随严重程度变化。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	level := slog.LevelWarn
	switch event.Severity {
	case xerrors.SeverityCritical:
		level = slog.LevelError
	case xerrors.SeverityInfo:
		level = slog.LevelInfo
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("stage", event.Stage),
		slog.String("intent_id", event.IntentID),
		slog.String("mandate_id", event.MandateID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}
	log.Log(ctx, level, "告警: "+event.Message, attrs...)
	return nil
}
