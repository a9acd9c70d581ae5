package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"CronCat-Agent/internal/config"
	"CronCat-Agent/internal/journal"
)

// openJournal 按配置创建事件后端。
func openJournal(cfg *config.Config) (journal.Journal, error) {
	return journal.Open(journal.Config{
		Backend: cfg.Journal.Backend,
		Redis: journal.RedisConfig{
			Address:  cfg.Journal.Redis.Address,
			Password: cfg.Journal.Redis.Password,
			DB:       cfg.Journal.Redis.DB,
			Key:      cfg.Journal.Redis.Key,
		},
		RabbitMQ: journal.RabbitMQConfig{
			URL:     cfg.Journal.RabbitMQ.URL,
			Queue:   cfg.Journal.RabbitMQ.Queue,
			Durable: cfg.Journal.RabbitMQ.Durable,
		},
	})
}

// newHistoryCmd creates the "croncatd history" subcommand.
func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent paid submissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			history, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer history.Close()

			records, err := history.ListLatest(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "暂无执行记录")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tSLOT\tSTATUS\tTX\tFAILURE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339), r.Kind, r.Slot, r.Status, r.TxHash, r.FailureKind)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多显示的记录数")
	return cmd
}

// newEventsCmd creates the "croncatd events" subcommand.
func newEventsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the agent event journal",
		Long:  "Consume events from the configured journal backend until interrupted.\nOnly the redis and rabbitmq backends are shared between processes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			err = j.Consume(cmd.Context(), func(_ context.Context, event journal.Event) error {
				return printEvent(out, event, asJSON)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 行输出事件")
	return cmd
}

func printEvent(w io.Writer, event journal.Event, asJSON bool) error {
	if asJSON {
		data, err := journal.Encode(event)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	line := fmt.Sprintf("%s %-22s agent=%s", event.OccurredAt.UTC().Format(time.RFC3339), event.Kind, event.AgentID)
	if event.Status != "" {
		line += " status=" + event.Status
	}
	if event.Slot != 0 {
		line += fmt.Sprintf(" slot=%d", event.Slot)
	}
	if event.TriggerHash != "" {
		line += " trigger=" + event.TriggerHash
	}
	if event.TxHash != "" {
		line += " tx=" + event.TxHash
	}
	if event.Error != "" {
		line += fmt.Sprintf(" error=%q", event.Error)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
