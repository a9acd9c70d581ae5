// Package mysql persists the agent's execution history: every paid submission
// (task execution, conditional call, refill, registration) with its outcome.
// A JSON-lines file backend serves single-host deployments; the MySQL backend
// applies the embedded migrations on open.
package mysql
