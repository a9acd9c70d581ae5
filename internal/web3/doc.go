// Package web3 describes the networks the agent can run against: RPC
// endpoints, chain IDs, the manager contract address, and the explorer used
// in operator-facing messages. Definitions load from YAML and are merged over
// the built-in presets.
package web3
