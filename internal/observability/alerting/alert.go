package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelSlack Channel = "slack"
	ChannelLog   Channel = "log"
)

// Event 描述一次需要通知运维人员的事件。
type Event struct {
	Kind       string
	Message    string
	Severity   xerrors.Severity
	AgentID    string
	Network    string
	OccurredAt time.Time
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

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把事件写入结构化日志，未配置 Slack 时作为兜底渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log := logger.Named("notify")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	log.Info(event.Message,
		slog.String("kind", event.Kind),
		slog.String("severity", string(event.Severity)),
		slog.String("agent_id", event.AgentID),
	)
	return nil
}

// AsyncDispatcher 在后台协程中投递事件，Notify 永不阻塞调用方。
// 缓冲区满时丢弃事件并记录日志。
type AsyncDispatcher struct {
	next    Dispatcher
	events  chan Event
	timeout time.Duration

	once sync.Once
	done chan struct{}
}

// NewAsync 包装一个同步 Dispatcher。buffer <= 0 时使用 32。
func NewAsync(next Dispatcher, buffer int) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 32
	}
	return &AsyncDispatcher{
		next:    next,
		events:  make(chan Event, buffer),
		timeout: 10 * time.Second,
		done:    make(chan struct{}),
	}
}

// Start 启动投递协程，直到 ctx 取消或 Close 被调用。
func (a *AsyncDispatcher) Start(ctx context.Context) {
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case event, ok := <-a.events:
				if !ok {
					return
				}
				a.deliver(event)
			}
		}
	}()
}

// Notify 将事件放入缓冲区。
func (a *AsyncDispatcher) Notify(_ context.Context, event Event) error {
	if a == nil || a.next == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	select {
	case a.events <- event:
	default:
		logger.L().Debug("通知缓冲区已满，丢弃事件", slog.String("kind", event.Kind))
	}
	return nil
}

// Close 停止接收事件并等待已缓冲的事件投递完成。
func (a *AsyncDispatcher) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		close(a.events)
	})
	select {
	case <-a.done:
	case <-time.After(a.timeout):
	}
}

func (a *AsyncDispatcher) drain() {
	for {
		select {
		case event, ok := <-a.events:
			if !ok {
				return
			}
			a.deliver(event)
		default:
			return
		}
	}
}

func (a *AsyncDispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Notify(ctx, event); err != nil {
		logger.L().Debug("通知发送失败", slog.Any("error", err), slog.String("kind", event.Kind))
	}
}
