// Package agent runs one credentialed account against the CronCat manager.
// A Runtime owns the cached agent record, network parameters and poll state;
// the balance guard, status machine and task poll loop are methods on it so
// the trigger loop and the status API can share the same session.
package agent
