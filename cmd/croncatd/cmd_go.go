package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/api"
	"CronCat-Agent/internal/observability/alerting"
	"CronCat-Agent/internal/observability/heartbeat"
	"CronCat-Agent/internal/observability/metrics"
	"CronCat-Agent/internal/trigger"
	"CronCat-Agent/pkg/logger"
)

const notifyBuffer = 64

// newGoCmd creates the "croncatd go" subcommand.
func newGoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "go",
		Short: "Run the agent until interrupted",
		Long:  "Bootstrap the agent, then poll for scheduled tasks and evaluate conditional\ntasks until SIGINT/SIGTERM or a fatal error.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), opts)
		},
	}
}

func runAgent(ctx context.Context, opts *rootOptions) error {
	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg
	log := logger.Named("croncatd")

	history, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer history.Close()

	events, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer events.Close()

	dispatcher := alerting.NewAsync(buildNotifier(cfg), notifyBuffer)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	registry := metrics.Default()
	runtimeOpts := []agent.Option{
		agent.WithNotifier(dispatcher),
		agent.WithJournal(events),
		agent.WithHistory(history),
		agent.WithMetrics(registry),
	}
	if cfg.Heartbeat.Enabled {
		if pinger := heartbeat.New(cfg.Heartbeat.URL, 0); pinger != nil {
			runtimeOpts = append(runtimeOpts, agent.WithHeartbeat(pinger))
		}
	}

	rt := agent.New(s.client, s.settings(), runtimeOpts...)
	if err := rt.Bootstrap(ctx); err != nil {
		return err
	}
	log.Info("agent 已启动",
		slog.String("agent_id", rt.AgentID()),
		slog.String("run_id", rt.RunID()),
		slog.String("status", string(rt.Current())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })

	var cache *trigger.Cache
	if cfg.Triggers.IsEnabled() {
		cache = trigger.NewCache(s.client, cfg.Triggers.CacheTTL(), uint64(cfg.Triggers.PageSize), nil)
		engine := trigger.NewEngine(s.client, cache, rt, cfg.Triggers.Interval(), trigger.WithMetrics(registry))
		g.Go(func() error { return engine.Run(gctx) })
	}

	if cfg.Server.Address != "" {
		serverOpts := []api.Option{api.WithHistory(history), api.WithMetrics(registry), api.WithToken(cfg.Server.Token)}
		if cache != nil {
			serverOpts = append(serverOpts, api.WithTriggerCache(cache))
		}
		server := api.NewServer(cfg.Server.Address, rt, serverOpts...)
		g.Go(func() error { return server.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("agent 已停止")
	return nil
}
