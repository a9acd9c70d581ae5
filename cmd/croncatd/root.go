package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"CronCat-Agent/internal/agent"
	"CronCat-Agent/internal/config"
	"CronCat-Agent/internal/ledger"
	"CronCat-Agent/internal/web3/provider"
	"CronCat-Agent/pkg/logger"
)

// rootOptions 保存所有子命令共享的全局参数。
type rootOptions struct {
	configPath string
	network    string
	rpcURL     string
	verbose    bool
}

// dialLedger 连接账本并返回释放函数，测试中替换为内存实现。
var dialLedger = func(ctx context.Context, cfg *config.Config) (ledger.Admin, provider.Network, func(), error) {
	client, network, err := provider.Dial(ctx, *cfg)
	if err != nil {
		return nil, network, nil, err
	}
	return client, network, client.Close, nil
}

// newRootCmd creates the croncatd command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "croncatd",
		Short:         "CronCat agent daemon",
		Long:          "croncatd registers an agent with the CronCat manager, keeps it funded\nand executes scheduled and conditional tasks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "配置文件路径 (默认读取 CRONCAT_CONFIG 或 "+config.DefaultPath+")")
	flags.StringVar(&opts.network, "network", "", "目标网络名称，覆盖配置文件")
	flags.StringVar(&opts.rpcURL, "rpc-url", "", "RPC 地址，覆盖链定义")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "输出调试日志")

	cmd.AddCommand(
		newRegisterCmd(opts),
		newUpdateCmd(opts),
		newUnregisterCmd(opts),
		newWithdrawCmd(opts),
		newStatusCmd(opts),
		newTasksCmd(opts),
		newTriggersCmd(opts),
		newHistoryCmd(opts),
		newEventsCmd(opts),
		newGoCmd(opts),
	)
	return cmd
}

// loadConfig 读取配置，应用命令行覆盖并初始化日志。
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, err
	}
	o.applyFlags(cfg)

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Attrs: map[string]string{
			"service": "croncatd",
			"network": cfg.Network.Name,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)
	return cfg, nil
}

func (o *rootOptions) applyFlags(cfg *config.Config) {
	if v := strings.TrimSpace(o.network); v != "" {
		cfg.Network.Name = v
	}
	if v := strings.TrimSpace(o.rpcURL); v != "" {
		cfg.Network.RPCURL = v
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}
}

// session 是一次命令执行期间持有的账本连接。
type session struct {
	cfg     *config.Config
	client  ledger.Admin
	network provider.Network
	close   func()
}

func (o *rootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	client, network, closeFn, err := dialLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return &session{cfg: cfg, client: client, network: network, close: closeFn}, nil
}

// settings 由配置与解析后的网络生成 Runtime 参数。
func (s *session) settings() agent.Settings {
	agentID := s.cfg.Agent.AccountID
	if agentID == "" {
		agentID = s.client.AccountID()
	}
	payable := s.cfg.Agent.PayableAccountID
	if payable == "" {
		payable = agentID
	}
	wallet := s.network.WalletURL
	if wallet == "" {
		wallet = s.network.AccountURL(agentID)
	}
	return agent.Settings{
		AgentID:           agentID,
		PayableAccountID:  payable,
		Network:           s.network.Name,
		WalletURL:         wallet,
		MinTaskBalance:    s.cfg.Agent.MinTaskBalanceWei(),
		MinSigningBalance: s.cfg.Agent.MinSigningBalanceWei(),
		Stake:             s.cfg.Agent.StakeWei(),
		AutoRefill:        s.cfg.Agent.AutoRefill,
		AutoReRegister:    s.cfg.Agent.AutoReRegister,
		WaitInterval:      s.cfg.Agent.WaitInterval(),
		ShortDelay:        s.cfg.Agent.ShortDelay(),
	}
}
