// Package sinks contains progress.Sink implementations for logs, Prometheus,
// and run-history storage.
package sinks
