// Package ledger defines the capability the agent core needs from the remote
// task registry: balance reads, registry views, and the paid calls that
// execute work. Concrete implementations live under internal/web3.
package ledger

import (
	"context"
	"math/big"
)

// AgentStatus 表示注册表中 agent 的状态。
type AgentStatus string

const (
	StatusUnregistered AgentStatus = "Unregistered"
	StatusPending      AgentStatus = "Pending"
	StatusActive       AgentStatus = "Active"
	StatusEjected      AgentStatus = "Ejected"
)

// Registered 判断状态是否代表注册表中存在该 agent。
func (s AgentStatus) Registered() bool {
	return s != "" && s != StatusUnregistered
}

// SlotExecution 记录 agent 在某个 slot 内已执行的次数。
type SlotExecution struct {
	Slot  uint64 `json:"slot"`
	Count uint64 `json:"count"`
}

// AgentRecord 是注册表中 agent 状态的只读副本。
type AgentRecord struct {
	Status             AgentStatus   `json:"status"`
	PayableAccount     string        `json:"payable_account_id"`
	Balance            *big.Int      `json:"balance"`
	TotalTasksExecuted uint64        `json:"total_tasks_executed"`
	LastMissedSlot     uint64        `json:"last_missed_slot"`
	SlotExecution      SlotExecution `json:"slot_execution"`
}

// StatusOf 返回记录的状态，nil 记录视为未注册。
func StatusOf(record *AgentRecord) AgentStatus {
	if record == nil || record.Status == "" {
		return StatusUnregistered
	}
	return record.Status
}

// Ratio 描述每个 agent 每个 slot 可执行任务数的分子分母。
type Ratio struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// NetworkParameters 是注册表配置的快照，进程启动时读取一次。
type NetworkParameters struct {
	Paused               bool     `json:"paused"`
	Owner                string   `json:"owner_id"`
	ActiveAgents         uint64   `json:"agent_active_queue"`
	PendingAgents        uint64   `json:"agent_pending_queue"`
	AgentTaskRatio       Ratio    `json:"agent_task_ratio"`
	AgentsEjectThreshold uint64   `json:"agents_eject_threshold"`
	SlotGranularity      uint64   `json:"slot_granularity"`
	AgentFee             *big.Int `json:"agent_fee"`
	GasPrice             *big.Int `json:"gas_price"`
}

// MaxExecutionsPerSlot 返回 floor(numerator/denominator)。
// 第二个返回值为 false 表示注册表没有配置配额。
func (p NetworkParameters) MaxExecutionsPerSlot() (uint64, bool) {
	if p.AgentTaskRatio.Denominator == 0 {
		return 0, false
	}
	return p.AgentTaskRatio.Numerator / p.AgentTaskRatio.Denominator, true
}

// TaskSummary 是当前可领取任务数与当前 slot。CurrentSlot 为 0 表示注册表暂停。
type TaskSummary struct {
	Count       uint64 `json:"count"`
	CurrentSlot uint64 `json:"current_slot"`
}

// TriggerRecord 是条件任务缓存中的一项，获取后不可变。
type TriggerRecord struct {
	Hash       string `json:"hash"`
	ContractID string `json:"contract_id"`
	FunctionID string `json:"function_id"`
	Arguments  []byte `json:"arguments"`
}

// Outcome 描述一次已上链交易的结果。
type Outcome struct {
	TxHash  string `json:"tx_hash"`
	Status  uint64 `json:"status"`
	GasUsed uint64 `json:"gas_used"`
}

// Client 是 agent 核心所需的全部远程能力。
//
// 所有失败都应通过 Classify 归类为本包注册的错误码，核心只按错误码分支。
type Client interface {
	AccountID() string
	GetAccountBalance(ctx context.Context) (*big.Int, error)
	GetAgentRecord(ctx context.Context, agentID string) (*AgentRecord, error)
	GetNetworkParameters(ctx context.Context) (NetworkParameters, error)
	GetClaimableTaskCount(ctx context.Context, agentID string) (TaskSummary, error)
	SubmitExecution(ctx context.Context) (Outcome, error)
	SubmitWithdrawReward(ctx context.Context) (Outcome, error)
	SubmitRegister(ctx context.Context, payableAccountID string, stake *big.Int) (Outcome, error)
	GetTriggerPage(ctx context.Context, offset, limit uint64) ([]TriggerRecord, error)
	CallReadOnly(ctx context.Context, contractID, functionID string, args []byte) (any, error)
	SubmitConditionalExecution(ctx context.Context, triggerHash string) (Outcome, error)
}

// Admin 补充运维命令需要的注册信息维护能力。
type Admin interface {
	Client
	SubmitUpdate(ctx context.Context, payableAccountID string) (Outcome, error)
	SubmitUnregister(ctx context.Context) (Outcome, error)
}
