// Package ledgertest provides a scriptable in-memory ledger for tests.
package ledgertest

import (
	"context"
	"math/big"
	"sync"

	"CronCat-Agent/internal/ledger"
)

// Ledger implements ledger.Admin with fields tests can set directly.
// Every method records a call count under its name.
type Ledger struct {
	mu sync.Mutex

	Account string

	// Balances is consumed front to back by GetAccountBalance; the last
	// value repeats once the slice is exhausted.
	Balances   []*big.Int
	BalanceErr error

	Record    *ledger.AgentRecord
	Records   []*ledger.AgentRecord
	RecordErr error

	Params    ledger.NetworkParameters
	ParamsErr error

	Tasks    ledger.TaskSummary
	TasksErr error

	ExecuteErr  error
	WithdrawErr error
	RegisterErr error

	Triggers   []ledger.TriggerRecord
	TriggerErr error

	// Results maps contract/function to the value CallReadOnly returns.
	Results map[string]any
	CallErr error

	ConditionalErr error

	// OnRegister is applied after a successful SubmitRegister.
	OnRegister func(l *Ledger)

	calls       map[string]int
	pageOffsets []uint64
	conditional []string
	evaluated   []string
}

// New returns a ledger with an Active agent and a generous balance.
func New(account string) *Ledger {
	return &Ledger{
		Account:  account,
		Balances: []*big.Int{big.NewInt(1_000_000)},
		Record:   &ledger.AgentRecord{Status: ledger.StatusActive},
		Params: ledger.NetworkParameters{
			AgentTaskRatio:       ledger.Ratio{Numerator: 2, Denominator: 1},
			AgentsEjectThreshold: 10,
			SlotGranularity:      1,
		},
		Results: map[string]any{},
	}
}

func (l *Ledger) hit(name string) {
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[name]++
}

// Calls returns how many times the named method ran.
func (l *Ledger) Calls(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[name]
}

// PageOffsets returns the offsets requested from GetTriggerPage.
func (l *Ledger) PageOffsets() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.pageOffsets...)
}

// Conditional returns the trigger hashes submitted for conditional execution.
func (l *Ledger) Conditional() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.conditional...)
}

// Evaluated returns the contract/function keys passed to CallReadOnly, in order.
func (l *Ledger) Evaluated() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.evaluated...)
}

// SetRecord replaces the agent record under the lock.
func (l *Ledger) SetRecord(record *ledger.AgentRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Record = record
}

// ResultKey builds the Results map key for a trigger target.
func ResultKey(contractID, functionID string) string {
	return contractID + "::" + functionID
}

func (l *Ledger) AccountID() string { return l.Account }

func (l *Ledger) GetAccountBalance(context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("GetAccountBalance")
	if l.BalanceErr != nil {
		return nil, l.BalanceErr
	}
	if len(l.Balances) == 0 {
		return big.NewInt(0), nil
	}
	next := l.Balances[0]
	if len(l.Balances) > 1 {
		l.Balances = l.Balances[1:]
	}
	return new(big.Int).Set(next), nil
}

func (l *Ledger) GetAgentRecord(context.Context, string) (*ledger.AgentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("GetAgentRecord")
	if l.RecordErr != nil {
		return nil, l.RecordErr
	}
	if len(l.Records) > 0 {
		l.Record = l.Records[0]
		l.Records = l.Records[1:]
	}
	if l.Record == nil {
		return nil, nil
	}
	clone := *l.Record
	return &clone, nil
}

func (l *Ledger) GetNetworkParameters(context.Context) (ledger.NetworkParameters, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("GetNetworkParameters")
	return l.Params, l.ParamsErr
}

func (l *Ledger) GetClaimableTaskCount(context.Context, string) (ledger.TaskSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("GetClaimableTaskCount")
	return l.Tasks, l.TasksErr
}

func (l *Ledger) SubmitExecution(context.Context) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("SubmitExecution")
	if l.ExecuteErr != nil {
		return ledger.Outcome{}, l.ExecuteErr
	}
	if l.Tasks.Count > 0 {
		l.Tasks.Count--
	}
	return ledger.Outcome{TxHash: "0xexec", Status: 1}, nil
}

func (l *Ledger) SubmitWithdrawReward(context.Context) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("SubmitWithdrawReward")
	if l.WithdrawErr != nil {
		return ledger.Outcome{}, l.WithdrawErr
	}
	return ledger.Outcome{TxHash: "0xwithdraw", Status: 1}, nil
}

func (l *Ledger) SubmitRegister(context.Context, string, *big.Int) (ledger.Outcome, error) {
	l.mu.Lock()
	l.hit("SubmitRegister")
	if l.RegisterErr != nil {
		l.mu.Unlock()
		return ledger.Outcome{}, l.RegisterErr
	}
	hook := l.OnRegister
	l.mu.Unlock()
	if hook != nil {
		hook(l)
	}
	return ledger.Outcome{TxHash: "0xregister", Status: 1}, nil
}

func (l *Ledger) SubmitUpdate(context.Context, string) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("SubmitUpdate")
	return ledger.Outcome{TxHash: "0xupdate", Status: 1}, nil
}

func (l *Ledger) SubmitUnregister(context.Context) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("SubmitUnregister")
	return ledger.Outcome{TxHash: "0xunregister", Status: 1}, nil
}

func (l *Ledger) GetTriggerPage(_ context.Context, offset, limit uint64) ([]ledger.TriggerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("GetTriggerPage")
	l.pageOffsets = append(l.pageOffsets, offset)
	if l.TriggerErr != nil {
		return nil, l.TriggerErr
	}
	if offset >= uint64(len(l.Triggers)) {
		return nil, nil
	}
	end := offset + limit
	if end > uint64(len(l.Triggers)) {
		end = uint64(len(l.Triggers))
	}
	return append([]ledger.TriggerRecord(nil), l.Triggers[offset:end]...), nil
}

func (l *Ledger) CallReadOnly(_ context.Context, contractID, functionID string, _ []byte) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("CallReadOnly")
	key := ResultKey(contractID, functionID)
	l.evaluated = append(l.evaluated, key)
	if l.CallErr != nil {
		return nil, l.CallErr
	}
	return l.Results[key], nil
}

func (l *Ledger) SubmitConditionalExecution(_ context.Context, triggerHash string) (ledger.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hit("SubmitConditionalExecution")
	l.conditional = append(l.conditional, triggerHash)
	if l.ConditionalErr != nil {
		return ledger.Outcome{}, l.ConditionalErr
	}
	return ledger.Outcome{TxHash: "0xcond-" + triggerHash, Status: 1}, nil
}

var _ ledger.Admin = (*Ledger)(nil)
