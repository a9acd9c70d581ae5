// Package api exposes a read-only HTTP surface over a running agent: liveness,
// the current session snapshot, recent execution history, and metrics.
package api
