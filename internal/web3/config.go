package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network.
type ChainDefinition struct {
	Type           string `yaml:"type"`
	RPCURL         string `yaml:"rpc_url"`
	WSURL          string `yaml:"ws_url"`
	ChainID        int64  `yaml:"chain_id"`
	ManagerAddress string `yaml:"manager_address"`
	WalletURL      string `yaml:"wallet_url"`
	ExplorerURL    string `yaml:"explorer_url"`
	Description    string `yaml:"description"`
}

// AccountURL returns the explorer page for account, or "" when no explorer is configured.
func (d ChainDefinition) AccountURL(account string) string {
	if d.ExplorerURL == "" {
		return ""
	}
	if strings.Contains(d.ExplorerURL, "%s") {
		return fmt.Sprintf(d.ExplorerURL, account)
	}
	return strings.TrimSuffix(d.ExplorerURL, "/") + "/address/" + account
}

// BuiltinChains returns the presets every installation knows about.
func BuiltinChains() map[string]ChainDefinition {
	return map[string]ChainDefinition{
		"mainnet": {
			Type:        "evm",
			RPCURL:      "https://ethereum-rpc.publicnode.com",
			ChainID:     1,
			WalletURL:   "https://app.safe.global",
			ExplorerURL: "https://etherscan.io",
			Description: "Ethereum mainnet",
		},
		"testnet": {
			Type:        "evm",
			RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
			ChainID:     11155111,
			WalletURL:   "https://sepoliafaucet.com",
			ExplorerURL: "https://sepolia.etherscan.io",
			Description: "Sepolia testnet",
		},
		"local": {
			Type:        "evm",
			RPCURL:      "http://127.0.0.1:8545",
			ChainID:     1337,
			Description: "local development node",
		},
	}
}

// LoadChainDefinitions parses the YAML file and merges it over the built-in
// presets. Empty fields in the file keep the preset value.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	defs := ChainDefinitions{Chains: BuiltinChains()}
	if strings.TrimSpace(path) == "" {
		return defs, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	var file ChainDefinitions
	if err := yaml.Unmarshal(content, &file); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	for name, chain := range file.Chains {
		defs.Chains[name] = merge(defs.Chains[name], chain)
	}
	return defs, nil
}

// Names returns the sorted network names.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func merge(base, override ChainDefinition) ChainDefinition {
	pick := func(a, b string) string {
		if strings.TrimSpace(b) != "" {
			return b
		}
		return a
	}
	out := ChainDefinition{
		Type:           pick(base.Type, override.Type),
		RPCURL:         pick(base.RPCURL, override.RPCURL),
		WSURL:          pick(base.WSURL, override.WSURL),
		ChainID:        base.ChainID,
		ManagerAddress: pick(base.ManagerAddress, override.ManagerAddress),
		WalletURL:      pick(base.WalletURL, override.WalletURL),
		ExplorerURL:    pick(base.ExplorerURL, override.ExplorerURL),
		Description:    pick(base.Description, override.Description),
	}
	if override.ChainID != 0 {
		out.ChainID = override.ChainID
	}
	return out
}
