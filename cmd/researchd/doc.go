// Package main hosts the company research service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes research submission (sync and async), progress polling and SSE
//     streaming, cancellation, stored reports, run history, cost estimates, source health and usage endpoints.
//   - Orchestration: internal/orchestrator validates a request, charges the daily usage quota, registers a
//     progress session and fans the depth's sources out through internal/executor. Every source runs behind
//     internal/source, which adds retries with exponential backoff, per-provider rate limiting and health tracking.
//   - Providers: RDAP domain registry, web search, knowledge graph, geocoding based location verification, a
//     Colly scraper for the company website and an LLM that both probes and synthesizes the final analysis.
//   - Persistence & fanout: finished reports are saved to memory, Postgres or GCS (optionally mirrored to an
//     archive bucket), cached in Redis or memory, and announced on Pub/Sub. Progress events are batched by
//     internal/progress and fed to log, Prometheus and run history sinks.
//   - Configuration & plumbing: Viper reads a config file plus RESEARCH_* environment overrides; zap provides
//     structured logging; Prometheus metrics are served on /metrics; OpenTelemetry traces every request.
//
// Operational notes:
//   - Shutdown: SIGINT/SIGTERM stops the HTTP listener, waits for in-flight research up to
//     server.shutdown_timeout, drains the progress hub and closes storage, cache and publisher clients.
//   - Health: /healthz is a liveness probe; /readyz also pings Redis when it backs the cache.
//
// Usage:
//
//	researchd -config config.yaml
package main
