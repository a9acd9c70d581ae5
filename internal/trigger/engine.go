package trigger

import (
	"context"
	"log/slog"
	"time"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/observability/metrics"
	"CronCat-Agent/pkg/logger"
)

// DefaultInterval 是两轮评估之间的默认间隔。
const DefaultInterval = 60 * time.Second

// Session 是 Engine 需要的 agent 会话能力。
type Session interface {
	Current() ledger.AgentStatus
	RecordSubmission(ctx context.Context, s agent.Submission)
}

// PassResult 汇总一轮评估。
type PassResult struct {
	Evaluated int
	Executed  int
	Elapsed   time.Duration
}

// Engine 按顺序评估缓存中的 trigger 并提交满足条件的调用。
// 同一轮内绝不并发评估，以限制对账本的调用与花费。
type Engine struct {
	client   ledger.Client
	cache    *Cache
	session  Session
	interval time.Duration
	metrics  *metrics.Registry
	now      func() time.Time
	log      *slog.Logger
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithMetrics 设置指标注册表。
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建 Engine。interval 为 0 时使用 DefaultInterval。
func NewEngine(client ledger.Client, cache *Cache, session Session, interval time.Duration, opts ...Option) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	e := &Engine{
		client:   client,
		cache:    cache,
		session:  session,
		interval: interval,
		metrics:  metrics.Default(),
		now:      time.Now,
		log:      logger.Named("triggers"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.metrics == nil {
		e.metrics = metrics.NewRegistry()
	}
	return e
}

// Evaluate 调用 trigger 的目标合约。调用失败按不执行处理。
func (e *Engine) Evaluate(ctx context.Context, t ledger.TriggerRecord) bool {
	result, err := e.client.CallReadOnly(ctx, t.ContractID, t.FunctionID, t.Arguments)
	if err != nil {
		e.log.Debug("评估 trigger 失败", slog.String("hash", t.Hash), slog.Any("error", err))
		return false
	}
	return Normalize(result)
}

// Execute 提交一次条件调用。失败只记录，本轮不重试。
func (e *Engine) Execute(ctx context.Context, t ledger.TriggerRecord) error {
	start := e.now()
	outcome, err := e.client.SubmitConditionalExecution(ctx, t.Hash)
	e.session.RecordSubmission(ctx, agent.Submission{
		Kind:        journal.KindConditional,
		TriggerHash: t.Hash,
		Outcome:     outcome,
		Err:         err,
		Duration:    e.now().Sub(start),
	})
	if err != nil {
		e.log.Debug("提交条件调用失败", slog.String("hash", t.Hash), slog.Any("error", err))
		return err
	}
	e.log.Info("条件调用已提交", slog.String("hash", t.Hash), slog.String("tx", outcome.TxHash))
	return nil
}

// RunPass 依次评估 triggers 并执行满足条件的项。
func (e *Engine) RunPass(ctx context.Context, triggers []ledger.TriggerRecord) PassResult {
	start := e.now()
	var result PassResult
	for _, t := range triggers {
		if ctx.Err() != nil {
			break
		}
		result.Evaluated++
		if !e.Evaluate(ctx, t) {
			continue
		}
		if err := e.Execute(ctx, t); err == nil {
			result.Executed++
		}
	}
	result.Elapsed = e.now().Sub(start)
	e.metrics.ObserveTriggerPass(result.Elapsed, result.Evaluated, result.Executed)
	return result
}

// NextDelay 返回下一轮前的等待时间：max(0, interval - elapsed)。
func NextDelay(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// Run 循环执行评估，直到 ctx 取消。agent 未激活时不评估；
// 缓存为空时等待一个缓存窗口。
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("trigger 循环已启动", slog.Duration("interval", e.interval))
	for {
		delay := e.cycle(ctx)
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (e *Engine) cycle(ctx context.Context) time.Duration {
	if e.session.Current() != ledger.StatusActive {
		return e.interval
	}
	triggers, err := e.cache.Refresh(ctx)
	if err != nil {
		e.log.Debug("刷新 trigger 缓存失败", slog.Any("error", err))
		return e.interval
	}
	e.metrics.SetGauge("croncat_trigger_cache_size", "Triggers held in the evaluation cache.", float64(len(triggers)))
	if len(triggers) == 0 {
		return e.cache.TTL()
	}
	result := e.RunPass(ctx, triggers)
	e.log.Debug("trigger 评估完成",
		slog.Int("evaluated", result.Evaluated),
		slog.Int("executed", result.Executed),
		slog.Duration("elapsed", result.Elapsed))
	return NextDelay(e.interval, result.Elapsed)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
