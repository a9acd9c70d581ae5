package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	xerrors "CronCat-Agent/internal/errors"
)

// DefaultPath 是未指定 --config 且未设置 CRONCAT_CONFIG 时读取的文件，不存在时忽略。
const DefaultPath = "configs/croncat.json"

// Config 描述 agent 启动阶段需要加载的全部配置。
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Network   NetworkConfig   `json:"network"`
	Triggers  TriggerConfig   `json:"triggers"`
	Notify    NotifyConfig    `json:"notify"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Journal   JournalConfig   `json:"journal"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// AgentConfig 控制 agent 身份、资金阈值和轮询节奏。金额均为最小单位 (wei) 的十进制字符串。
type AgentConfig struct {
	AccountID         string `json:"account_id"`
	PayableAccountID  string `json:"payable_account_id"`
	PrivateKey        string `json:"private_key"`
	KeyFile           string `json:"key_file"`
	MinTaskBalance    string `json:"min_task_balance"`
	MinSigningBalance string `json:"min_signing_balance"`
	StakeAmount       string `json:"stake_amount"`
	AutoRefill        bool   `json:"auto_refill"`
	AutoReRegister    bool   `json:"auto_re_register"`
	WaitIntervalMS    int    `json:"wait_interval_ms"`
	ShortDelayMS      int    `json:"short_delay_ms"`
	GasLimit          uint64 `json:"gas_limit"`
	ReceiptTimeoutSec int    `json:"receipt_timeout_seconds"`
}

// NetworkConfig 选择目标网络。RPCURL、ManagerAddress、ChainID 会覆盖链定义文件中的同名字段。
type NetworkConfig struct {
	Name           string `json:"name"`
	ChainConfig    string `json:"chain_config"`
	RPCURL         string `json:"rpc_url"`
	ManagerAddress string `json:"manager_address"`
	ChainID        int64  `json:"chain_id"`
}

// TriggerConfig 控制条件任务评估循环。
type TriggerConfig struct {
	Enabled         *bool `json:"enabled"`
	IntervalMS      int   `json:"interval_ms"`
	CacheTTLSeconds int   `json:"cache_ttl_seconds"`
	PageSize        int   `json:"page_size"`
}

// NotifyConfig 描述 Slack 通知。
type NotifyConfig struct {
	SlackToken    string `json:"slack_token"`
	SlackChannel  string `json:"slack_channel"`
	SlackUsername string `json:"slack_username"`
}

// HeartbeatConfig 描述心跳上报地址。
type HeartbeatConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// JournalConfig 选择事件后端。
type JournalConfig struct {
	Backend  string         `json:"backend"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// StorageConfig 描述执行历史存储。
type StorageConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig 目前支持 file 与 mysql 两种驱动。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ServerConfig 控制状态接口，Address 为空时不启动。Token 非空时 /api/v1 需要 Bearer 认证。
type ServerConfig struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制付费调用审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 解析指定路径的 JSON 配置文件并填充默认值，不读取环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "配置文件路径为空")
	}
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Resolve 按 文件 → 环境变量 → 默认值 的顺序生成配置。path 为空时依次尝试
// CRONCAT_CONFIG 与 DefaultPath，默认文件不存在不视为错误。
func Resolve(path string) (*Config, error) {
	return resolve(path, os.LookupEnv)
}

func resolve(path string, lookup func(string) (string, bool)) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env, ok := lookup("CRONCAT_CONFIG"); ok && strings.TrimSpace(env) != "" {
			path = strings.TrimSpace(env)
			explicit = true
		} else {
			path = DefaultPath
		}
	}

	cfg, err := readFile(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, fmt.Sprintf("打开配置文件 %s 失败", path))
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "读取配置文件失败")
	}
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "解析配置失败")
	}
	return &cfg, nil
}

// applyEnv 用环境变量覆盖文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	str("AGENT_ACCOUNT_ID", &c.Agent.AccountID)
	str("AGENT_PAYABLE_ACCOUNT_ID", &c.Agent.PayableAccountID)
	str("AGENT_PRIVATE_KEY", &c.Agent.PrivateKey)
	str("AGENT_KEY_FILE", &c.Agent.KeyFile)
	str("AGENT_MIN_TASK_BALANCE", &c.Agent.MinTaskBalance)
	str("AGENT_MIN_SIGNING_BALANCE", &c.Agent.MinSigningBalance)
	str("AGENT_STAKE_AMOUNT", &c.Agent.StakeAmount)
	boolean("AGENT_AUTO_REFILL", &c.Agent.AutoRefill)
	boolean("AGENT_AUTO_RE_REGISTER", &c.Agent.AutoReRegister)
	integer("WAIT_INTERVAL_MS", &c.Agent.WaitIntervalMS)

	integer("TRIGGER_INTERVAL_MS", &c.Triggers.IntervalMS)
	if v, ok := lookup("TRIGGERS_ENABLED"); ok && strings.TrimSpace(v) != "" {
		enabled := true
		boolean("TRIGGERS_ENABLED", &enabled)
		c.Triggers.Enabled = &enabled
	}

	str("NEAR_ENV", &c.Network.Name)
	str("CRONCAT_NETWORK", &c.Network.Name)
	str("RPC_URL", &c.Network.RPCURL)
	str("CRONCAT_MANAGER_ADDRESS", &c.Network.ManagerAddress)
	str("CRONCAT_CHAIN_CONFIG", &c.Network.ChainConfig)

	str("SLACK_TOKEN", &c.Notify.SlackToken)
	str("SLACK_CHANNEL", &c.Notify.SlackChannel)
	boolean("HEARTBEAT", &c.Heartbeat.Enabled)
	str("HEARTBEAT_URL", &c.Heartbeat.URL)

	str("LOG_LEVEL", &c.Log.Level)
	str("CRONCAT_JOURNAL", &c.Journal.Backend)
	str("REDIS_ADDR", &c.Journal.Redis.Address)
	str("RABBITMQ_URL", &c.Journal.RabbitMQ.URL)
	str("CRONCAT_HISTORY_DSN", &c.Storage.History.DSN)
	str("CRONCAT_STATUS_ADDR", &c.Server.Address)
	str("CRONCAT_STATUS_TOKEN", &c.Server.Token)
	str("CRONCAT_DATA_DIR", &c.Runtime.DataDir)

	if len(errs) > 0 {
		return xerrors.Wrap(xerrors.CodeConfig, errors.Join(errs...), "环境变量格式错误")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.MinTaskBalance == "" {
		c.Agent.MinTaskBalance = "10000000000000000"
	}
	if c.Agent.MinSigningBalance == "" {
		c.Agent.MinSigningBalance = "300000000000000"
	}
	if c.Agent.StakeAmount == "" {
		c.Agent.StakeAmount = "0"
	}
	if c.Agent.WaitIntervalMS <= 0 {
		c.Agent.WaitIntervalMS = 30000
	}
	if c.Agent.ShortDelayMS <= 0 {
		c.Agent.ShortDelayMS = 100
	}
	if c.Agent.ReceiptTimeoutSec <= 0 {
		c.Agent.ReceiptTimeoutSec = 120
	}

	if c.Network.Name == "" {
		c.Network.Name = "testnet"
	}
	if c.Network.ChainConfig != "" && !filepath.IsAbs(c.Network.ChainConfig) {
		c.Network.ChainConfig = filepath.Join(baseDir, c.Network.ChainConfig)
	}

	if c.Triggers.Enabled == nil {
		enabled := true
		c.Triggers.Enabled = &enabled
	}
	if c.Triggers.IntervalMS <= 0 {
		c.Triggers.IntervalMS = 60000
	}
	if c.Triggers.CacheTTLSeconds <= 0 {
		c.Triggers.CacheTTLSeconds = 60
	}
	if c.Triggers.PageSize <= 0 {
		c.Triggers.PageSize = 100
	}

	if c.Notify.SlackChannel == "" {
		c.Notify.SlackChannel = "general"
	}
	if c.Notify.SlackUsername == "" {
		c.Notify.SlackUsername = "CronCat"
	}

	if c.Journal.Backend == "" {
		c.Journal.Backend = "memory"
	}
	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "file"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 检查数值字段是否可解析。
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"agent.min_task_balance":    c.Agent.MinTaskBalance,
		"agent.min_signing_balance": c.Agent.MinSigningBalance,
		"agent.stake_amount":        c.Agent.StakeAmount,
	} {
		if _, err := parseAmount(raw); err != nil {
			return xerrors.New(xerrors.CodeConfig, fmt.Sprintf("%s 不是合法的金额: %q", name, raw))
		}
	}
	if c.Heartbeat.Enabled && strings.TrimSpace(c.Heartbeat.URL) == "" {
		return xerrors.New(xerrors.CodeConfig, "启用心跳时必须设置 HEARTBEAT_URL")
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func mustAmount(raw string) *big.Int {
	value, err := parseAmount(raw)
	if err != nil {
		return new(big.Int)
	}
	return value
}

// MinTaskBalanceWei 返回触发补充余额的阈值。
func (a AgentConfig) MinTaskBalanceWei() *big.Int { return mustAmount(a.MinTaskBalance) }

// MinSigningBalanceWei 返回签名交易所需的最低余额。
func (a AgentConfig) MinSigningBalanceWei() *big.Int { return mustAmount(a.MinSigningBalance) }

// StakeWei 返回注册时附带的押金。
func (a AgentConfig) StakeWei() *big.Int { return mustAmount(a.StakeAmount) }

// WaitInterval 返回标准轮询间隔。
func (a AgentConfig) WaitInterval() time.Duration {
	return time.Duration(a.WaitIntervalMS) * time.Millisecond
}

// ShortDelay 返回成功执行后的快速重试间隔。
func (a AgentConfig) ShortDelay() time.Duration {
	return time.Duration(a.ShortDelayMS) * time.Millisecond
}

// ReceiptTimeout 返回等待交易回执的上限。
func (a AgentConfig) ReceiptTimeout() time.Duration {
	return time.Duration(a.ReceiptTimeoutSec) * time.Second
}

// IsEnabled 报告条件任务循环是否启用。
func (t TriggerConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Interval 返回条件任务评估间隔。
func (t TriggerConfig) Interval() time.Duration {
	return time.Duration(t.IntervalMS) * time.Millisecond
}

// CacheTTL 返回条件任务缓存有效期。
func (t TriggerConfig) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSeconds) * time.Second
}
