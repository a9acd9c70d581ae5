package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/config"
	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/journal"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/storage/mysql"
	"CronCat-Agent/internal/web3"
)

// openHistory 打开执行历史存储。
func openHistory(ctx context.Context, cfg *config.Config) (mysql.HistoryRepository, error) {
	return mysql.Open(ctx, mysql.Config{
		Driver:  cfg.Storage.History.Driver,
		DSN:     cfg.Storage.History.DSN,
		DataDir: cfg.Runtime.DataDir,
	})
}

func printOutcome(w io.Writer, action string, outcome ledger.Outcome) {
	if outcome.TxHash == "" {
		fmt.Fprintf(w, "%s 完成\n", action)
		return
	}
	fmt.Fprintf(w, "%s 完成, tx: %s (gas used %d)\n", action, outcome.TxHash, outcome.GasUsed)
}

// newRegisterCmd creates the "croncatd register" subcommand.
func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		payable string
		stake   string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the agent with the CronCat manager",
		Long:  "Submit a registration for the configured agent account. Rewards are paid to\n--payable, which defaults to the agent account itself.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			settings := s.settings()
			if payable != "" {
				settings.PayableAccountID = payable
			}
			if stake != "" {
				amount, ok := new(big.Int).SetString(stake, 10)
				if !ok || amount.Sign() < 0 {
					return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("stake 金额 %q 无效", stake))
				}
				settings.Stake = amount
			}

			record, err := s.client.GetAgentRecord(ctx, settings.AgentID)
			if err == nil && record != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "agent %s 已注册，当前状态 %s\n", settings.AgentID, record.Status)
				return nil
			}

			history, err := openHistory(ctx, s.cfg)
			if err != nil {
				return err
			}
			defer history.Close()

			rt := agent.New(s.client, settings, agent.WithHistory(history))
			if err := rt.CheckSolvency(ctx); err != nil {
				return err
			}
			if err := rt.Register(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %s 已提交注册，收益账户 %s\n", settings.AgentID, settings.PayableAccountID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payable, "payable", "", "接收奖励的账户，默认为 agent 账户")
	cmd.Flags().StringVar(&stake, "stake", "", "注册时附带的质押金额 (wei)")
	return cmd
}

// newUpdateCmd creates the "croncatd update" subcommand.
func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var payable string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change the account that receives agent rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			target := payable
			if target == "" {
				target = s.settings().PayableAccountID
			}
			outcome, err := s.client.SubmitUpdate(ctx, target)
			if err != nil {
				return fmt.Errorf("更新收益账户失败: %w", err)
			}
			printOutcome(cmd.OutOrStdout(), "更新收益账户为 "+target, outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&payable, "payable", "", "新的收益账户")
	return cmd
}

// newUnregisterCmd creates the "croncatd unregister" subcommand.
func newUnregisterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Remove the agent from the manager",
		Long:  "Unregister the agent. Accrued rewards are sent to the payable account by the manager.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			outcome, err := s.client.SubmitUnregister(ctx)
			if err != nil {
				return fmt.Errorf("注销 agent 失败: %w", err)
			}
			printOutcome(cmd.OutOrStdout(), "注销 agent", outcome)
			return nil
		},
	}
}

// newWithdrawCmd creates the "croncatd withdraw" subcommand.
func newWithdrawCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw accrued rewards to the agent account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			history, err := openHistory(ctx, s.cfg)
			if err != nil {
				return err
			}
			defer history.Close()
			rt := agent.New(s.client, s.settings(), agent.WithHistory(history))

			start := time.Now()
			outcome, err := s.client.SubmitWithdrawReward(ctx)
			rt.RecordSubmission(ctx, agent.Submission{Kind: journal.KindRefill, Outcome: outcome, Err: err, Duration: time.Since(start)})
			if err != nil {
				return fmt.Errorf("提取奖励失败: %w", err)
			}
			printOutcome(cmd.OutOrStdout(), "提取奖励", outcome)

			balance, err := s.client.GetAccountBalance(ctx)
			if err != nil {
				return fmt.Errorf("读取余额失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "当前余额: %s ETH\n", web3.FormatEther(balance))
			return nil
		},
	}
}
