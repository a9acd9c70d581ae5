package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/web3"
)

// balanceCheckEvery 是余额检查与心跳的节奏：每 6 次任务轮询执行一次。
const balanceCheckEvery = 6

func (r *Runtime) readBalance(ctx context.Context) (*big.Int, error) {
	balance, err := r.client.GetAccountBalance(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.balance = new(big.Int).Set(balance)
	r.mu.Unlock()
	r.metrics.SetGauge("croncat_agent_balance_wei", "Native balance of the agent account in wei.", bigToFloat(balance))
	return balance, nil
}

// CheckSolvency 在启动时确认账户余额足以签名交易，否则返回致命错误。
func (r *Runtime) CheckSolvency(ctx context.Context) error {
	balance, err := r.readBalance(ctx)
	if err != nil {
		r.notify(ctx, "ledger_unavailable", xerrors.SeverityCritical,
			fmt.Sprintf("*Attention!* %s RPC failed to retrieve balance!", r.settings.Network))
		return xerrors.Wrap(CodeLedgerUnavailable, err, "读取 agent 余额失败")
	}
	r.log.Info("agent 余额", slog.String("balance", web3.FormatEther(balance)))
	if balance.Cmp(r.settings.MinSigningBalance) > 0 {
		return nil
	}
	return xerrors.New(CodeInsufficientBalance,
		fmt.Sprintf("agent 账户余额 %s 不足以支付交易签名", web3.FormatEther(balance)),
		xerrors.WithRemediation(r.fundingAdvice()))
}

func (r *Runtime) fundingAdvice() string {
	amount := new(big.Int).Mul(r.settings.MinSigningBalance, big.NewInt(4))
	advice := fmt.Sprintf("1. 复制 agent 账户: %s\n2. 向该账户转入至少 %s ETH", r.settings.AgentID, web3.FormatEther(amount))
	if r.settings.WalletURL != "" {
		advice += fmt.Sprintf("\n3. 可以使用钱包转账: %s", r.settings.WalletURL)
	}
	return advice
}

// CheckAndRefill 在余额低于任务最低余额时提取奖励补充余额。
// 提取失败或补充后仍不足时返回致命错误；读取余额失败视为可恢复。
func (r *Runtime) CheckAndRefill(ctx context.Context) error {
	balance, err := r.readBalance(ctx)
	if err != nil {
		r.log.Debug("读取 agent 余额失败", slog.Any("error", err))
		return nil
	}
	if balance.Cmp(r.settings.MinTaskBalance) >= 0 {
		return nil
	}

	r.log.Warn("agent 余额不足，尝试从奖励中补充", slog.String("balance", web3.FormatEther(balance)))
	r.notify(ctx, "balance_low", xerrors.SeverityWarning, "Agent is running low on funds, attempting to refill from rewards...")

	start := r.now()
	outcome, err := r.client.SubmitWithdrawReward(ctx)
	r.RecordSubmission(ctx, Submission{Kind: journal.KindRefill, Outcome: outcome, Err: err, Duration: r.now().Sub(start)})
	if err != nil {
		r.notify(ctx, "refill_failed", xerrors.SeverityCritical, "*Attention!* No balance to withdraw.")
		return xerrors.Wrap(CodeRefillFailed, err, "没有可提取的奖励",
			xerrors.WithRemediation(r.fundingAdvice()))
	}

	balance, err = r.readBalance(ctx)
	if err != nil {
		r.notify(ctx, "ledger_unavailable", xerrors.SeverityCritical,
			fmt.Sprintf("*Attention!* %s RPC failed to retrieve balance!", r.settings.Network))
		return xerrors.Wrap(CodeLedgerUnavailable, err, "补充后读取 agent 余额失败")
	}
	if balance.Cmp(r.settings.MinTaskBalance) < 0 {
		r.notify(ctx, "refill_insufficient", xerrors.SeverityCritical, "*Attention!* Not enough balance to execute tasks, refill please.")
		return xerrors.New(CodeRefillFailed,
			fmt.Sprintf("补充后余额 %s 仍低于任务最低余额 %s", web3.FormatEther(balance), web3.FormatEther(r.settings.MinTaskBalance)),
			xerrors.WithRemediation(r.fundingAdvice()))
	}

	formatted := web3.FormatEther(balance)
	r.log.Info("agent 余额已补充", slog.String("balance", formatted))
	r.notify(ctx, "refilled", xerrors.SeverityInfo, fmt.Sprintf("Agent Refilled, Balance: *%s*", formatted))
	return nil
}

// Pace 在每次任务轮询开始时调用。计数器为 0 时执行余额检查（开启自动补充时）
// 和心跳，然后计数器加一并对 6 取模。
func (r *Runtime) Pace(ctx context.Context) error {
	r.mu.Lock()
	due := r.poll.BalanceCounter == 0
	r.poll.BalanceCounter = (r.poll.BalanceCounter + 1) % balanceCheckEvery
	r.mu.Unlock()
	if !due {
		return nil
	}

	if r.settings.AutoRefill {
		if err := r.CheckAndRefill(ctx); err != nil {
			return err
		}
	}
	if r.heartbeat != nil {
		if err := r.heartbeat.Ping(ctx); err != nil {
			r.log.Debug("心跳失败", slog.Any("error", err))
		}
	}
	return nil
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
