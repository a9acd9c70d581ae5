// Package trigger runs the conditional-task loop. A soft-TTL cache holds the
// manager's trigger list; each pass evaluates every trigger's read-only
// predicate in order and submits a conditional call for those that hold.
package trigger
