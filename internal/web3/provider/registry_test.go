package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"CronCat-Agent/internal/config"
	xerrors "CronCat-Agent/internal/errors"
)

func TestResolveBuiltin(t *testing.T) {
	network, err := Resolve(config.NetworkConfig{Name: "Testnet"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if network.Name != "testnet" || network.ChainID != 11155111 {
		t.Fatalf("unexpected network %+v", network)
	}
}

func TestResolveOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := "chains:\n  devnet:\n    rpc_url: http://devnet:8545\n    chain_id: 99\n    manager_address: \"0x00000000000000000000000000000000000000Aa\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	network, err := Resolve(config.NetworkConfig{Name: "devnet", ChainConfig: path, RPCURL: "http://override:8545", ChainID: 7})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if network.RPCURL != "http://override:8545" || network.ChainID != 7 {
		t.Fatalf("overrides not applied: %+v", network)
	}
	if network.ManagerAddress != "0x00000000000000000000000000000000000000Aa" {
		t.Fatalf("manager address should come from the file: %+v", network)
	}

	cfg := ClientConfig(network, config.AgentConfig{AccountID: "0xabc", GasLimit: 500_000, ReceiptTimeoutSec: 30})
	if cfg.ManagerAddress != network.ManagerAddress || cfg.GasLimit != 500_000 || cfg.ReceiptTimeout != 30*time.Second {
		t.Fatalf("unexpected client config %+v", cfg)
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve(config.NetworkConfig{Name: "nowhere"})
	if xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if xerrors.RemediationOf(err) == "" {
		t.Fatal("expected the known networks in the remediation")
	}
}
