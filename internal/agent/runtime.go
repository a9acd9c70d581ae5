package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/observability/alerting"
	"CronCat-Agent/internal/observability/metrics"
	"CronCat-Agent/internal/storage/mysql"
	"CronCat-Agent/pkg/logger"
)

// agent 进程级错误码。Fatal 为 true 的错误会让两个循环立即退出。
const (
	CodeInsufficientBalance xerrors.Code = "AGENT_INSUFFICIENT_BALANCE"
	CodeRefillFailed        xerrors.Code = "AGENT_REFILL_FAILED"
	CodeRegistrationLost    xerrors.Code = "AGENT_REGISTRATION_LOST"
	CodeEjected             xerrors.Code = "AGENT_EJECTED"
	CodeRegistrationFailed  xerrors.Code = "AGENT_REGISTRATION_FAILED"
	CodeLedgerUnavailable   xerrors.Code = "AGENT_LEDGER_UNAVAILABLE"
	CodeNoManager           xerrors.Code = "AGENT_NO_MANAGER"
	CodeNotRegistered       xerrors.Code = "AGENT_NOT_REGISTERED"
)

func init() {
	fatal := func(code xerrors.Code, message string) {
		xerrors.Register(code, xerrors.Attributes{
			Message:  message,
			Severity: xerrors.SeverityCritical,
			Alert:    true,
			Fatal:    true,
		})
	}
	fatal(CodeInsufficientBalance, "agent balance too low to sign transactions")
	fatal(CodeRefillFailed, "agent balance could not be refilled")
	fatal(CodeRegistrationLost, "agent lost its registration")
	fatal(CodeEjected, "agent has been ejected")
	fatal(CodeRegistrationFailed, "agent registration failed")
	fatal(CodeLedgerUnavailable, "ledger unavailable")
	fatal(CodeNoManager, "no CronCat manager deployed on this network")
	// 未注册且未开启自动注册时正常退出，提示用户先注册。
	xerrors.Register(CodeNotRegistered, xerrors.Attributes{
		Message:  "agent is not registered",
		Severity: xerrors.SeverityInfo,
	})
}

// Settings 是 Runtime 的运行参数，金额均以 wei 计。
type Settings struct {
	AgentID          string
	PayableAccountID string
	Network          string
	// WalletURL 出现在余额不足的修复建议中。
	WalletURL         string
	MinTaskBalance    *big.Int
	MinSigningBalance *big.Int
	Stake             *big.Int
	AutoRefill        bool
	AutoReRegister    bool
	WaitInterval      time.Duration
	ShortDelay        time.Duration
}

// Pinger 是心跳探测的最小接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// TaskPollState 是任务轮询在两次迭代之间保留的状态。
type TaskPollState struct {
	ClaimableTasks uint64    `json:"claimable_tasks"`
	CurrentSlot    uint64    `json:"current_slot"`
	BalanceCounter int       `json:"balance_counter"`
	LastTick       time.Time `json:"last_tick"`
	LastOutcome    string    `json:"last_outcome"`
}

// Submission 描述一次付费调用，写入事件日志与执行历史。
type Submission struct {
	Kind        journal.Kind
	Slot        uint64
	TriggerHash string
	Outcome     ledger.Outcome
	Err         error
	Duration    time.Duration
}

// Snapshot 是供状态接口读取的只读视图。
type Snapshot struct {
	AgentID string                   `json:"agent_id"`
	Network string                   `json:"network"`
	RunID   string                   `json:"run_id"`
	Status  ledger.AgentStatus       `json:"status"`
	Record  *ledger.AgentRecord      `json:"record,omitempty"`
	Params  ledger.NetworkParameters `json:"network_parameters"`
	Balance *big.Int                 `json:"balance,omitempty"`
	Tasks   TaskPollState            `json:"tasks"`
}

// Runtime 持有一个 agent 会话的全部状态。
type Runtime struct {
	client    ledger.Client
	settings  Settings
	notifier  alerting.Dispatcher
	journal   journal.Publisher
	history   mysql.HistoryRepository
	metrics   *metrics.Registry
	heartbeat Pinger
	now       func() time.Time
	runID     string
	log       *slog.Logger

	mu      sync.RWMutex
	status  ledger.AgentStatus
	record  *ledger.AgentRecord
	params  ledger.NetworkParameters
	balance *big.Int
	poll    TaskPollState
}

// Option 定义可选的 Runtime 配置。
type Option func(*Runtime)

// WithNotifier 设置运维通知出口。
func WithNotifier(n alerting.Dispatcher) Option {
	return func(r *Runtime) { r.notifier = n }
}

// WithJournal 设置事件日志。
func WithJournal(p journal.Publisher) Option {
	return func(r *Runtime) { r.journal = p }
}

// WithHistory 设置执行历史存储。
func WithHistory(h mysql.HistoryRepository) Option {
	return func(r *Runtime) { r.history = h }
}

// WithMetrics 设置指标注册表。
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithHeartbeat 设置心跳探测。
func WithHeartbeat(p Pinger) Option {
	return func(r *Runtime) { r.heartbeat = p }
}

// WithClock 替换时间来源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New 创建一个 Runtime。初始状态总是 Unregistered。
func New(client ledger.Client, settings Settings, opts ...Option) *Runtime {
	if strings.TrimSpace(settings.AgentID) == "" {
		settings.AgentID = client.AccountID()
	}
	if settings.MinTaskBalance == nil {
		settings.MinTaskBalance = new(big.Int)
	}
	if settings.MinSigningBalance == nil {
		settings.MinSigningBalance = new(big.Int)
	}
	if settings.Stake == nil {
		settings.Stake = new(big.Int)
	}
	if settings.WaitInterval <= 0 {
		settings.WaitInterval = 30 * time.Second
	}
	if settings.ShortDelay <= 0 {
		settings.ShortDelay = 100 * time.Millisecond
	}

	r := &Runtime{
		client:   client,
		settings: settings,
		journal:  journal.Discard{},
		metrics:  metrics.Default(),
		now:      time.Now,
		runID:    uuid.NewString(),
		status:   ledger.StatusUnregistered,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.journal == nil {
		r.journal = journal.Discard{}
	}
	if r.metrics == nil {
		r.metrics = metrics.NewRegistry()
	}
	r.log = logger.Named("agent").With(slog.String("agent_id", settings.AgentID), slog.String("network", settings.Network))
	r.metrics.SetStatus(string(r.status), allStatuses...)
	return r
}

var allStatuses = []string{
	string(ledger.StatusUnregistered),
	string(ledger.StatusPending),
	string(ledger.StatusActive),
	string(ledger.StatusEjected),
}

// AgentID 返回当前会话的 agent 账户。
func (r *Runtime) AgentID() string { return r.settings.AgentID }

// RunID 返回本进程的运行标识，写入所有事件。
func (r *Runtime) RunID() string { return r.runID }

// Client 返回共享的账本客户端。
func (r *Runtime) Client() ledger.Client { return r.client }

// Params 返回启动时读取的网络参数。
func (r *Runtime) Params() ledger.NetworkParameters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// Snapshot 返回当前会话状态的副本。
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		AgentID: r.settings.AgentID,
		Network: r.settings.Network,
		RunID:   r.runID,
		Status:  r.status,
		Params:  r.params,
		Tasks:   r.poll,
	}
	if r.record != nil {
		clone := *r.record
		snap.Record = &clone
	}
	if r.balance != nil {
		snap.Balance = new(big.Int).Set(r.balance)
	}
	return snap
}

// Bootstrap 完成启动前的检查：凭据、余额、注册状态和网络参数。
// 未注册且未开启自动注册时返回 CodeNotRegistered，调用方应以 0 退出。
func (r *Runtime) Bootstrap(ctx context.Context) error {
	if r.settings.AgentID == "" {
		return xerrors.New(ledger.CodeKeyNotFound, "未找到 agent 账户",
			xerrors.WithRemediation("导出 AGENT_ACCOUNT_ID 与 AGENT_PRIVATE_KEY，或在配置文件中设置 agent.key_file"))
	}
	if err := r.CheckSolvency(ctx); err != nil {
		return err
	}

	requiresRegister := false
	record, err := r.client.GetAgentRecord(ctx, r.settings.AgentID)
	switch {
	case err != nil:
		return xerrors.Wrap(CodeLedgerUnavailable, err, fmt.Sprintf("读取 agent %s 的注册信息失败", r.settings.AgentID),
			xerrors.WithRemediation("检查 RPC 节点是否可用后重新启动 agent"))
	case record == nil:
		requiresRegister = true
	default:
		r.log.Info("已注册的 agent", slog.String("status", string(record.Status)))
	}
	if requiresRegister && !r.settings.AutoReRegister {
		return xerrors.New(CodeNotRegistered, fmt.Sprintf("agent %s 尚未注册", r.settings.AgentID),
			xerrors.WithRemediation("请先执行 `croncatd register` 完成注册"))
	}

	params, err := r.client.GetNetworkParameters(ctx)
	if err != nil {
		return xerrors.Wrap(CodeNoManager, err, fmt.Sprintf("网络 %s 上没有部署 CronCat manager", r.settings.Network),
			xerrors.WithRemediation("检查 --network 与 manager_address 配置"))
	}
	r.mu.Lock()
	r.params = params
	r.mu.Unlock()

	if requiresRegister {
		r.log.Info("agent 未注册，尝试自动注册")
		if err := r.Register(ctx); err != nil {
			return err
		}
	}
	if _, err := r.Refresh(ctx); err != nil && xerrors.IsFatal(err) {
		return err
	}

	if r.Current() == ledger.StatusPending {
		r.log.Info("agent 正在等待 manager 将状态切换为 Active，请不要停止进程")
	}
	return nil
}

// Current 返回缓存的 agent 状态。
func (r *Runtime) Current() ledger.AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Runtime) notify(ctx context.Context, kind string, severity xerrors.Severity, message string) {
	if r.notifier == nil {
		return
	}
	event := alerting.Event{
		Kind:       kind,
		Message:    message,
		Severity:   severity,
		AgentID:    r.settings.AgentID,
		Network:    r.settings.Network,
		OccurredAt: r.now(),
	}
	if err := r.notifier.Notify(ctx, event); err != nil {
		r.log.Debug("发送通知失败", slog.String("kind", kind), slog.Any("error", err))
	}
}

func (r *Runtime) newEvent(kind journal.Kind) journal.Event {
	event := journal.NewEvent(kind, r.settings.AgentID)
	event.RunID = r.runID
	event.OccurredAt = r.now().UTC()
	return event
}

func (r *Runtime) publish(ctx context.Context, event journal.Event) {
	if err := r.journal.Publish(ctx, event); err != nil {
		r.log.Debug("写入事件失败", slog.String("kind", string(event.Kind)), slog.Any("error", err))
	}
}

// RecordSubmission 把一次付费调用写入指标、事件日志与执行历史。
// 记录失败只写调试日志，不影响调用方。
func (r *Runtime) RecordSubmission(ctx context.Context, s Submission) {
	result := mysql.StatusSucceeded
	if s.Err != nil {
		result = mysql.StatusFailed
	}
	r.metrics.ObserveSubmission(string(s.Kind), result, s.Duration)

	event := r.newEvent(s.Kind)
	event.Slot = s.Slot
	event.TriggerHash = s.TriggerHash
	event.TxHash = s.Outcome.TxHash
	if s.Err != nil {
		event.Error = s.Err.Error()
	}
	r.publish(ctx, event)

	if r.history == nil {
		return
	}
	record := &mysql.ExecutionRecord{
		EventID:     event.ID,
		RunID:       r.runID,
		Kind:        string(s.Kind),
		AgentID:     r.settings.AgentID,
		Slot:        s.Slot,
		TriggerHash: s.TriggerHash,
		TxHash:      s.Outcome.TxHash,
		Status:      result,
		GasUsed:     s.Outcome.GasUsed,
		CreatedAt:   event.OccurredAt.Unix(),
	}
	if s.Err != nil {
		record.FailureKind = string(ledger.KindOf(s.Err))
		record.Error = s.Err.Error()
	}
	if err := r.history.Save(ctx, record); err != nil {
		r.log.Debug("保存执行历史失败", slog.Any("error", err))
	}
}
