package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"CronCat-Agent/internal/config"
	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/observability/alerting"
	"CronCat-Agent/internal/trigger"
	"CronCat-Agent/internal/web3"
	"CronCat-Agent/pkg/logger"
)

// buildNotifier 组合日志通知与 Slack 通知（配置了 token 时）。
func buildNotifier(cfg *config.Config) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("notify")}}
	if slack := alerting.NewSlackNotifier(alerting.SlackConfig{
		Token:    cfg.Notify.SlackToken,
		Channel:  cfg.Notify.SlackChannel,
		Username: cfg.Notify.SlackUsername,
	}); slack != nil {
		notifiers = append(notifiers, slack)
	}
	return alerting.NewFanout(notifiers...)
}

// newStatusCmd creates the "croncatd status" subcommand.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent record and wallet balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			settings := s.settings()
			out := cmd.OutOrStdout()
			record, err := s.client.GetAgentRecord(ctx, settings.AgentID)
			if err != nil {
				return fmt.Errorf("读取 agent 记录失败: %w", err)
			}
			balance, err := s.client.GetAccountBalance(ctx)
			if err != nil {
				return fmt.Errorf("读取余额失败: %w", err)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Agent:\t%s\n", settings.AgentID)
			fmt.Fprintf(w, "Network:\t%s\n", settings.Network)
			fmt.Fprintf(w, "Status:\t%s\n", ledger.StatusOf(record))
			if record != nil {
				fmt.Fprintf(w, "Payable:\t%s\n", record.PayableAccount)
				if record.Balance != nil {
					fmt.Fprintf(w, "Rewards:\t%s ETH\n", web3.FormatEther(record.Balance))
				}
				fmt.Fprintf(w, "Tasks executed:\t%d\n", record.TotalTasksExecuted)
				fmt.Fprintf(w, "Last missed slot:\t%d\n", record.LastMissedSlot)
			}
			fmt.Fprintf(w, "Balance:\t%s ETH\n", web3.FormatEther(balance))
			if err := w.Flush(); err != nil {
				return err
			}

			if balance.Cmp(settings.MinTaskBalance) < 0 {
				message := fmt.Sprintf("Agent balance %s ETH is below the task minimum %s ETH, refill please.",
					web3.FormatEther(balance), web3.FormatEther(settings.MinTaskBalance))
				fmt.Fprintf(out, "\n警告: %s\n", message)
				_ = buildNotifier(s.cfg).Notify(ctx, alerting.Event{
					Kind:     "balance_low",
					Message:  message,
					Severity: xerrors.SeverityWarning,
					AgentID:  settings.AgentID,
					Network:  settings.Network,
				})
			}
			return nil
		},
	}
}

// newTasksCmd creates the "croncatd tasks" subcommand.
func newTasksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Show the tasks claimable by the agent in the current slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			summary, err := s.client.GetClaimableTaskCount(ctx, s.settings().AgentID)
			if err != nil {
				return fmt.Errorf("读取可执行任务失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slot %d: %d 个可执行任务\n", summary.CurrentSlot, summary.Count)
			return nil
		},
	}
}

// newTriggersCmd creates the "croncatd triggers" subcommand.
func newTriggersCmd(opts *rootOptions) *cobra.Command {
	var evaluate bool
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "List the registered conditional tasks",
		Long:  "Fetch every registered trigger. With --evaluate each predicate is called once\nand its normalised result is printed; nothing is submitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			cache := trigger.NewCache(s.client, s.cfg.Triggers.CacheTTL(), uint64(s.cfg.Triggers.PageSize), nil)
			triggers, err := cache.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("读取条件任务失败: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(triggers) == 0 {
				fmt.Fprintln(out, "没有注册的条件任务")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if evaluate {
				fmt.Fprintln(w, "HASH\tCONTRACT\tFUNCTION\tREADY")
			} else {
				fmt.Fprintln(w, "HASH\tCONTRACT\tFUNCTION")
			}
			for _, t := range triggers {
				if !evaluate {
					fmt.Fprintf(w, "%s\t%s\t%s\n", t.Hash, t.ContractID, t.FunctionID)
					continue
				}
				result, err := s.client.CallReadOnly(ctx, t.ContractID, t.FunctionID, t.Arguments)
				ready := err == nil && trigger.Normalize(result)
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.Hash, t.ContractID, t.FunctionID, ready)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&evaluate, "evaluate", false, "逐个评估条件但不提交执行")
	return cmd
}
