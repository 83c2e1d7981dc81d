// Package api hosts the HTTP server, middleware, and REST handlers for the
// research service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/research and /v1/research/async for submission.
//   - GET /v1/research/{id}/progress, /stream (SSE), /report and /run for
//     tracking; DELETE /v1/research/{id} cancels.
//   - GET /v1/research/cost-estimate, /health, /sources, /quick-check, /usage
//     and POST /v1/research/test-sources for diagnostics.
package api
