// Package config loads the agent configuration: an optional JSON file,
// environment overrides using the variable names operators already export,
// then defaults. Command-line flags are applied last by cmd/croncatd.
package config
