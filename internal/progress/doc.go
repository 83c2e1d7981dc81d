// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the orchestrator uses to report research lifecycle milestones. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as logs, Prometheus metrics, or persistent run storage.
package progress
