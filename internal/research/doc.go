// Package research holds the data model shared by the orchestration pipeline:
// source kinds, task and request statuses, the submitted request, per-source
// task results, progress snapshots, and the final aggregated report. It also
// declares the collaborator interfaces (stores, cache, publisher, clock, id
// generator) that the HTTP layer and the orchestrator depend on.
package research
