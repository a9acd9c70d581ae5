package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/ledger"
)

func decodeError(method string, values []any, want int) error {
	return xerrors.New(ledger.CodeUnknown, fmt.Sprintf("%s 返回 %d 个值，期望 %d 个", method, len(values), want))
}

func typeError(method, field string, got any) error {
	return xerrors.New(ledger.CodeUnknown, fmt.Sprintf("%s.%s 类型不符: %T", method, field, got))
}

func decodeAgent(values []any) (*ledger.AgentRecord, error) {
	if len(values) != 7 {
		return nil, decodeError(methodGetAgent, values, 7)
	}
	status, ok := values[0].(uint8)
	if !ok {
		return nil, typeError(methodGetAgent, "status", values[0])
	}
	if status == agentStatusNone {
		return nil, nil
	}
	payable, ok := values[1].(common.Address)
	if !ok {
		return nil, typeError(methodGetAgent, "payableAccount", values[1])
	}
	balance, ok := values[2].(*big.Int)
	if !ok {
		return nil, typeError(methodGetAgent, "balance", values[2])
	}
	executed, ok := values[3].(*big.Int)
	if !ok {
		return nil, typeError(methodGetAgent, "totalTasksExecuted", values[3])
	}
	var slots [3]uint64
	for i := range slots {
		v, ok := values[4+i].(uint64)
		if !ok {
			return nil, typeError(methodGetAgent, "slot", values[4+i])
		}
		slots[i] = v
	}

	record := &ledger.AgentRecord{
		PayableAccount:     payable.Hex(),
		Balance:            balance,
		TotalTasksExecuted: executed.Uint64(),
		LastMissedSlot:     slots[0],
		SlotExecution:      ledger.SlotExecution{Slot: slots[1], Count: slots[2]},
	}
	switch status {
	case agentStatusPending:
		record.Status = ledger.StatusPending
	case agentStatusActive:
		record.Status = ledger.StatusActive
	case agentStatusEjected:
		record.Status = ledger.StatusEjected
	default:
		return nil, xerrors.New(ledger.CodeUnknown, fmt.Sprintf("未知的 agent 状态 %d", status))
	}
	return record, nil
}

func decodeInfo(values []any) (ledger.NetworkParameters, error) {
	if len(values) != 10 {
		return ledger.NetworkParameters{}, decodeError(methodGetInfo, values, 10)
	}
	paused, ok := values[0].(bool)
	if !ok {
		return ledger.NetworkParameters{}, typeError(methodGetInfo, "paused", values[0])
	}
	owner, ok := values[1].(common.Address)
	if !ok {
		return ledger.NetworkParameters{}, typeError(methodGetInfo, "owner", values[1])
	}
	var nums [6]uint64
	for i := range nums {
		v, ok := values[2+i].(uint64)
		if !ok {
			return ledger.NetworkParameters{}, typeError(methodGetInfo, "uint64", values[2+i])
		}
		nums[i] = v
	}
	fee, ok := values[8].(*big.Int)
	if !ok {
		return ledger.NetworkParameters{}, typeError(methodGetInfo, "agentFee", values[8])
	}
	gasPrice, ok := values[9].(*big.Int)
	if !ok {
		return ledger.NetworkParameters{}, typeError(methodGetInfo, "gasPrice", values[9])
	}
	return ledger.NetworkParameters{
		Paused:               paused,
		Owner:                owner.Hex(),
		ActiveAgents:         nums[0],
		PendingAgents:        nums[1],
		AgentTaskRatio:       ledger.Ratio{Numerator: nums[2], Denominator: nums[3]},
		AgentsEjectThreshold: nums[4],
		SlotGranularity:      nums[5],
		AgentFee:             fee,
		GasPrice:             gasPrice,
	}, nil
}

func decodeTasks(values []any) (ledger.TaskSummary, error) {
	if len(values) != 2 {
		return ledger.TaskSummary{}, decodeError(methodGetAgentTasks, values, 2)
	}
	count, ok := values[0].(uint64)
	if !ok {
		return ledger.TaskSummary{}, typeError(methodGetAgentTasks, "count", values[0])
	}
	slot, ok := values[1].(uint64)
	if !ok {
		return ledger.TaskSummary{}, typeError(methodGetAgentTasks, "slot", values[1])
	}
	return ledger.TaskSummary{Count: count, CurrentSlot: slot}, nil
}

func decodeTriggers(values []any) ([]ledger.TriggerRecord, error) {
	if len(values) != 4 {
		return nil, decodeError(methodGetTriggers, values, 4)
	}
	hashes, ok := values[0].([][32]byte)
	if !ok {
		return nil, typeError(methodGetTriggers, "hashes", values[0])
	}
	contracts, ok := values[1].([]common.Address)
	if !ok {
		return nil, typeError(methodGetTriggers, "contracts", values[1])
	}
	functions, ok := values[2].([]string)
	if !ok {
		return nil, typeError(methodGetTriggers, "functions", values[2])
	}
	arguments, ok := values[3].([][]byte)
	if !ok {
		return nil, typeError(methodGetTriggers, "arguments", values[3])
	}
	n := len(hashes)
	if len(contracts) != n || len(functions) != n || len(arguments) != n {
		return nil, xerrors.New(ledger.CodeUnknown, fmt.Sprintf("getTriggers 返回的数组长度不一致: %d/%d/%d/%d",
			n, len(contracts), len(functions), len(arguments)))
	}
	out := make([]ledger.TriggerRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ledger.TriggerRecord{
			Hash:       hexutil.Encode(hashes[i][:]),
			ContractID: contracts[i].Hex(),
			FunctionID: functions[i],
			Arguments:  append([]byte(nil), arguments[i]...),
		})
	}
	return out, nil
}
