// Package journal 记录 agent 产生的执行事件（状态变化、提交结果、补充余额等），
// 供 events 命令实时查看或由外部系统消费。
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "CronCat-Agent/internal/errors"
)

// CodeJournalUnavailable 表示事件后端不可用。
const CodeJournalUnavailable xerrors.Code = "JOURNAL_UNAVAILABLE"

func init() {
	xerrors.Register(CodeJournalUnavailable, xerrors.Attributes{
		Message:   "event journal unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Kind 标识事件类型。
type Kind string

// 事件类型
const (
	KindStatusChanged Kind = "status_changed"
	KindExecution     Kind = "execution"
	KindConditional   Kind = "conditional_execution"
	KindRefill        Kind = "refill"
	KindRegistration  Kind = "registration"
	KindEjected       Kind = "ejected"
)

// Event 是一次可观察的 agent 行为。
type Event struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	Kind        Kind      `json:"kind"`
	AgentID     string    `json:"agent_id"`
	Status      string    `json:"status,omitempty"`
	Slot        uint64    `json:"slot,omitempty"`
	TriggerHash string    `json:"trigger_hash,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent 填充 ID 和时间。
func NewEvent(kind Kind, agentID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		AgentID:    agentID,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode 把事件编码为 JSON。
func Encode(event Event) ([]byte, error) {
	return json.Marshal(event)
}

// Decode 解析 JSON 事件。
func Decode(data []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return event, nil
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责写入事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责读取事件，直到 ctx 取消。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Journal 同时具备写入与读取能力。
type Journal interface {
	Publisher
	Consumer
}

// Config 选择事件后端。
type Config struct {
	Backend  string
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Buffer   int
}

// Open 根据配置创建事件后端。空 Backend 或 "memory" 使用进程内队列。
func Open(cfg Config) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemory(cfg.Buffer), nil
	case "redis":
		r, err := NewRedis(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "rabbitmq", "amqp":
		q, err := NewRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "none", "disabled":
		return Discard{}, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfig, fmt.Sprintf("未知的事件后端 %q", cfg.Backend))
	}
}

// Discard 丢弃所有事件。
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

func (Discard) Consume(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (Discard) Close() error { return nil }
