// Package provider resolves the configured network to a chain definition and
// dials the manager client for it.
package provider

import (
	"context"
	"fmt"
	"strings"

	"CronCat-Agent/internal/config"
	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/internal/web3"
	"CronCat-Agent/internal/web3/ethereum"
)

// Network is a resolved chain definition with its name.
type Network struct {
	Name string
	web3.ChainDefinition
}

// Resolve loads the chain definitions and picks the one named by the
// configuration. Explicit RPC, manager and chain ID settings win over the
// definition.
func Resolve(cfg config.NetworkConfig) (Network, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return Network{}, xerrors.Wrap(xerrors.CodeConfig, err, "加载链配置失败")
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		name = "testnet"
	}
	def, ok := defs.Chains[name]
	if !ok {
		return Network{}, xerrors.New(xerrors.CodeConfig, fmt.Sprintf("未知网络 %q", cfg.Name),
			xerrors.WithRemediation("可选网络: "+strings.Join(defs.Names(), ", ")))
	}
	if t := strings.ToLower(strings.TrimSpace(def.Type)); t != "" && t != "evm" {
		return Network{}, xerrors.New(xerrors.CodeConfig, fmt.Sprintf("网络 %s 使用了不支持的类型 %s", name, def.Type))
	}
	if v := strings.TrimSpace(cfg.RPCURL); v != "" {
		def.RPCURL = v
	}
	if v := strings.TrimSpace(cfg.ManagerAddress); v != "" {
		def.ManagerAddress = v
	}
	if cfg.ChainID != 0 {
		def.ChainID = cfg.ChainID
	}
	return Network{Name: name, ChainDefinition: def}, nil
}

// ClientConfig combines the network with the agent credentials.
func ClientConfig(network Network, agent config.AgentConfig) ethereum.Config {
	return ethereum.Config{
		Name:           network.Name,
		RPCURL:         network.RPCURL,
		ChainID:        network.ChainID,
		ManagerAddress: network.ManagerAddress,
		AccountID:      agent.AccountID,
		PrivateKey:     agent.PrivateKey,
		KeyFile:        agent.KeyFile,
		GasLimit:       agent.GasLimit,
		ReceiptTimeout: agent.ReceiptTimeout(),
	}
}

// Dial resolves the network and connects the manager client.
func Dial(ctx context.Context, cfg config.Config) (*ethereum.Client, Network, error) {
	network, err := Resolve(cfg.Network)
	if err != nil {
		return nil, Network{}, err
	}
	client, err := ethereum.NewClient(ctx, ClientConfig(network, cfg.Agent))
	if err != nil {
		return nil, network, fmt.Errorf("连接网络 %s 失败: %w", network.Name, err)
	}
	return client, network, nil
}
