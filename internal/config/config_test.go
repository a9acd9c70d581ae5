package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "CronCat-Agent/internal/errors"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestResolveDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope", "croncat.json")

	// 显式指定的文件不存在时报错。
	if _, err := resolve(missing, envMap(nil)); xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("expected config error for explicit missing file, got %v", err)
	}

	wd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	cfg, err := resolve("", envMap(nil))
	if err != nil {
		t.Fatalf("resolve without file: %v", err)
	}
	if cfg.Agent.WaitInterval() != 30*time.Second || cfg.Agent.ShortDelay() != 100*time.Millisecond {
		t.Fatalf("unexpected intervals %v %v", cfg.Agent.WaitInterval(), cfg.Agent.ShortDelay())
	}
	if cfg.Triggers.Interval() != time.Minute || cfg.Triggers.CacheTTL() != time.Minute || cfg.Triggers.PageSize != 100 {
		t.Fatalf("unexpected trigger defaults %+v", cfg.Triggers)
	}
	if !cfg.Triggers.IsEnabled() || cfg.Agent.AutoRefill || cfg.Agent.AutoReRegister {
		t.Fatalf("unexpected toggles %+v", cfg.Agent)
	}
	if cfg.Network.Name != "testnet" || cfg.Journal.Backend != "memory" || cfg.Storage.History.Driver != "file" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestResolveFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "croncat.json")
	content := `{
  "agent": {"payable_account_id": "0xpay", "wait_interval_ms": 5000, "auto_refill": false},
  "network": {"name": "local", "chain_config": "chains.yaml"},
  "triggers": {"enabled": false},
  "runtime": {"data_dir": "state"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := resolve(path, envMap(map[string]string{
		"AGENT_AUTO_REFILL":      "true",
		"AGENT_MIN_TASK_BALANCE": "42",
		"NEAR_ENV":               "mainnet",
		"SLACK_TOKEN":            "T/B/X",
		"CRONCAT_STATUS_TOKEN":   "s3cret",
	}))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Agent.PayableAccountID != "0xpay" || cfg.Agent.WaitIntervalMS != 5000 {
		t.Fatalf("file values lost: %+v", cfg.Agent)
	}
	if !cfg.Agent.AutoRefill || cfg.Agent.MinTaskBalanceWei().Int64() != 42 {
		t.Fatalf("env overrides not applied: %+v", cfg.Agent)
	}
	if cfg.Network.Name != "mainnet" {
		t.Fatalf("NEAR_ENV should select the network, got %q", cfg.Network.Name)
	}
	if cfg.Triggers.IsEnabled() {
		t.Fatalf("triggers should stay disabled")
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "state") {
		t.Fatalf("data dir should be relative to the config file, got %q", cfg.Runtime.DataDir)
	}
	if cfg.Notify.SlackToken != "T/B/X" || cfg.Notify.SlackChannel != "general" {
		t.Fatalf("unexpected notify config %+v", cfg.Notify)
	}
	if cfg.Network.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config should be relative to the config file, got %q", cfg.Network.ChainConfig)
	}
	if cfg.Server.Token != "s3cret" {
		t.Fatalf("status token not applied: %q", cfg.Server.Token)
	}
}

func TestCroncatNetworkWinsOverNearEnv(t *testing.T) {
	cfg := &Config{}
	err := cfg.applyEnv(envMap(map[string]string{"NEAR_ENV": "mainnet", "CRONCAT_NETWORK": "local"}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Network.Name != "local" {
		t.Fatalf("expected local, got %q", cfg.Network.Name)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]map[string]string{
		"bool":      {"AGENT_AUTO_REFILL": "sometimes"},
		"int":       {"WAIT_INTERVAL_MS": "soon"},
		"amount":    {"AGENT_MIN_TASK_BALANCE": "-1"},
		"heartbeat": {"HEARTBEAT": "true"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			env["CRONCAT_CONFIG"] = ""
			wd, _ := os.Getwd()
			t.Cleanup(func() { _ = os.Chdir(wd) })
			_ = os.Chdir(dir)
			if _, err := resolve("", envMap(env)); xerrors.CodeOf(err) != xerrors.CodeConfig {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
