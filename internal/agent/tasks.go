package agent

import (
	"context"
	"log/slog"
	"time"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/ledger"
)

// 任务轮询结果，同时作为指标 label。
const (
	OutcomeExecuted          = "executed"
	OutcomeTasksUnavailable  = "tasks_unavailable"
	OutcomeStatusUnavailable = "status_unavailable"
	OutcomeInactive          = "inactive"
	OutcomeQuota             = "quota"
	OutcomeEjected           = "ejected"
	OutcomePaused            = "paused"
	OutcomeIdle              = "idle"
	OutcomeQuotaReached      = "quota_reached"
	OutcomeFailed            = "failed"
)

// Tick 执行一次任务轮询并返回下一次轮询前的等待时间。
// 只有致命错误会被返回，其余失败都在本轮内记录并按标准间隔重试。
func (r *Runtime) Tick(ctx context.Context) (time.Duration, error) {
	if err := r.Pace(ctx); err != nil {
		return 0, err
	}

	summary, err := r.client.GetClaimableTaskCount(ctx, r.settings.AgentID)
	if err != nil {
		r.log.Debug("查询可执行任务失败，稍后重试", slog.Any("error", err))
		return r.skip(OutcomeTasksUnavailable), nil
	}
	r.mu.Lock()
	r.poll.ClaimableTasks = summary.Count
	r.poll.CurrentSlot = summary.CurrentSlot
	r.poll.LastTick = r.now()
	r.mu.Unlock()
	r.metrics.SetGauge("croncat_claimable_tasks", "Tasks claimable by the agent at the last poll.", float64(summary.Count))
	if summary.CurrentSlot == 0 {
		r.log.Info("任务轮询", slog.Uint64("tasks", summary.Count), slog.String("slot", "paused"))
	} else {
		r.log.Info("任务轮询", slog.Uint64("tasks", summary.Count), slog.Uint64("slot", summary.CurrentSlot))
	}

	record, err := r.Refresh(ctx)
	if err != nil {
		if xerrors.IsFatal(err) {
			return 0, err
		}
		r.log.Debug("刷新 agent 状态失败，按未激活处理", slog.Any("error", err))
		return r.skip(OutcomeStatusUnavailable), nil
	}

	// 注册表暂停期间 slot 不推进，驱逐判断没有意义。
	if r.registryPaused(ctx, summary) {
		r.log.Debug("跳过本轮执行", slog.String("reason", OutcomePaused))
		return r.skip(OutcomePaused), nil
	}

	reason := ""
	switch {
	case ledger.StatusOf(record) != ledger.StatusActive:
		reason = OutcomeInactive
	case quotaReached(record, r.Params(), summary.CurrentSlot):
		reason = OutcomeQuota
	}

	ejected, err := r.checkEjection(ctx, record, summary.CurrentSlot)
	if err != nil {
		return 0, err
	}
	if ejected && reason == "" {
		reason = OutcomeEjected
	}

	if reason == "" && summary.Count == 0 {
		reason = OutcomeIdle
	}
	if reason != "" {
		r.log.Debug("跳过本轮执行", slog.String("reason", reason))
		return r.skip(reason), nil
	}

	start := r.now()
	outcome, err := r.client.SubmitExecution(ctx)
	r.RecordSubmission(ctx, Submission{
		Kind:     journal.KindExecution,
		Slot:     summary.CurrentSlot,
		Outcome:  outcome,
		Err:      err,
		Duration: r.now().Sub(start),
	})
	if err != nil {
		if ledger.IsQuotaExceeded(err) {
			r.log.Debug("本 slot 执行次数已达上限", slog.Uint64("slot", summary.CurrentSlot))
			return r.skip(OutcomeQuotaReached), nil
		}
		r.log.Debug("提交任务执行失败", slog.Any("error", err))
		return r.skip(OutcomeFailed), nil
	}
	r.log.Debug("任务已执行", slog.String("tx", outcome.TxHash))
	r.observe(OutcomeExecuted)
	return r.settings.ShortDelay, nil
}

// registryPaused 判断注册表是否暂停：slot 为 0，或网络参数带有暂停标记。
// 参数快照标记为暂停时重新读取一次，恢复后即可继续执行。
func (r *Runtime) registryPaused(ctx context.Context, summary ledger.TaskSummary) bool {
	if summary.CurrentSlot == 0 {
		return true
	}
	if !r.Params().Paused {
		return false
	}
	params, err := r.client.GetNetworkParameters(ctx)
	if err != nil {
		r.log.Debug("读取网络参数失败", slog.Any("error", err))
		return true
	}
	r.mu.Lock()
	r.params = params
	r.mu.Unlock()
	return params.Paused
}

// quotaReached 判断当前或更早 slot 的执行次数是否已达到每 slot 配额。
func quotaReached(record *ledger.AgentRecord, params ledger.NetworkParameters, currentSlot uint64) bool {
	quota, ok := params.MaxExecutionsPerSlot()
	if !ok || record == nil {
		return false
	}
	return record.SlotExecution.Slot <= currentSlot && record.SlotExecution.Count >= quota
}

func (r *Runtime) skip(outcome string) time.Duration {
	r.observe(outcome)
	return r.settings.WaitInterval
}

func (r *Runtime) observe(outcome string) {
	r.mu.Lock()
	r.poll.LastOutcome = outcome
	r.mu.Unlock()
	r.metrics.ObserveTick(outcome)
}

// Run 循环执行 Tick，直到出现致命错误或 ctx 取消。
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("任务轮询已启动", slog.Duration("wait_interval", r.settings.WaitInterval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		delay, err := r.Tick(ctx)
		if err != nil {
			r.log.Error("任务轮询终止", slog.Any("error", err))
			return err
		}
		timer.Reset(delay)
	}
}
