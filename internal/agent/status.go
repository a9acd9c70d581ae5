package agent

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/ledger"
)

// Refresh 读取 agent 记录并更新缓存状态。
//
// 读取失败时缓存保持不变并返回可恢复错误，调用方按未激活处理。
// 状态变化时只发送一次通知；从已注册变为未注册时按配置自动重新注册，
// 否则返回致命错误。
func (r *Runtime) Refresh(ctx context.Context) (*ledger.AgentRecord, error) {
	record, err := r.client.GetAgentRecord(ctx, r.settings.AgentID)
	if err != nil {
		return nil, ledger.Classify(err, "读取 agent 记录失败")
	}
	next := ledger.StatusOf(record)

	r.mu.Lock()
	prev := r.status
	r.status = next
	r.record = record
	r.mu.Unlock()

	if next == prev {
		return record, nil
	}

	r.log.Info("agent 状态变化", slog.String("from", string(prev)), slog.String("to", string(next)))
	r.metrics.SetStatus(string(next), allStatuses...)
	r.notify(ctx, "status_changed", xerrors.SeverityInfo,
		fmt.Sprintf("*Agent Status Update:*\nYour agent is now a status of *%s*", next))
	event := r.newEvent(journal.KindStatusChanged)
	event.Status = string(next)
	r.publish(ctx, event)

	if prev.Registered() && next == ledger.StatusUnregistered {
		if !r.settings.AutoReRegister {
			return nil, xerrors.New(CodeRegistrationLost, fmt.Sprintf("agent %s 已失去注册", r.settings.AgentID),
				xerrors.WithRemediation("执行 `croncatd register` 重新注册，或设置 AGENT_AUTO_RE_REGISTER=true"))
		}
		if err := r.Register(ctx); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// IsEjected 判断 agent 是否因错过太多 slot 被驱逐。
// LastMissedSlot 为 0 时永远不算驱逐。
func IsEjected(record *ledger.AgentRecord, params ledger.NetworkParameters, currentSlot uint64) bool {
	if record == nil || record.LastMissedSlot == 0 {
		return false
	}
	return record.LastMissedSlot > currentSlot+params.AgentsEjectThreshold*params.SlotGranularity
}

// checkEjection 返回 agent 是否被驱逐；驱逐且未开启自动重新注册时返回致命错误。
func (r *Runtime) checkEjection(ctx context.Context, record *ledger.AgentRecord, currentSlot uint64) (bool, error) {
	if !IsEjected(record, r.Params(), currentSlot) {
		return false, nil
	}
	const message = "Agent has been ejected! Too many slots missed!"
	r.log.Error(message, slog.Uint64("last_missed_slot", record.LastMissedSlot), slog.Uint64("current_slot", currentSlot))
	r.notify(ctx, "ejected", xerrors.SeverityCritical, "*"+message+"*")
	event := r.newEvent(journal.KindEjected)
	event.Slot = currentSlot
	r.publish(ctx, event)

	if !r.settings.AutoReRegister {
		return true, xerrors.New(CodeEjected, message,
			xerrors.WithRemediation("执行 `croncatd register` 重新注册，或设置 AGENT_AUTO_RE_REGISTER=true"))
	}
	return true, r.Register(ctx)
}

// Register 以配置的收款账户和质押金额注册 agent。失败总是致命的。
func (r *Runtime) Register(ctx context.Context) error {
	payable := r.settings.PayableAccountID
	if payable == "" {
		payable = r.settings.AgentID
	}
	start := r.now()
	outcome, err := r.client.SubmitRegister(ctx, payable, r.settings.Stake)
	r.RecordSubmission(ctx, Submission{Kind: journal.KindRegistration, Outcome: outcome, Err: err, Duration: r.now().Sub(start)})
	if err != nil {
		remediation := "请移除本地凭据后重试"
		if xerrors.CodeOf(err) == ledger.CodeKeyNotFound {
			remediation = fmt.Sprintf("请为账户 %s 提供私钥后重试", r.settings.AgentID)
		}
		return xerrors.Wrap(CodeRegistrationFailed, err, "agent 注册失败", xerrors.WithRemediation(remediation))
	}
	r.log.Info("agent 已注册", slog.String("payable_account_id", payable), slog.String("tx", outcome.TxHash))
	return nil
}
