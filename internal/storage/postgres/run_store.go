package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/company-research/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool dbPool
}

// NewRunStore opens its own pool.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	pool, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool wraps an existing pool.
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// StartRun inserts a running row, leaving an existing row untouched unless
// its status differs.
func (s *RunStore) StartRun(ctx context.Context, requestID, company, depth string, startedAt time.Time) error {
	query := `
		INSERT INTO research_runs (request_id, company, depth, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE research_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, requestID, company, depth, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	requestID string,
	finishedAt time.Time,
	status store.RunStatus,
	totalCost float64,
	errMsg *string,
) error {
	query := `
		UPDATE research_runs
		SET finished_at = $1, status = $2, total_cost = $3, error_message = $4
		WHERE request_id = $5;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, totalCost, errMsg, requestID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordOutcomes upserts one row per source outcome.
func (s *RunStore) RecordOutcomes(ctx context.Context, outcomes []store.SourceOutcome) error {
	query := `
		INSERT INTO research_source_outcomes
			(request_id, source, status, duration_ms, cost, error_message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id, source) DO UPDATE
		SET status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms,
			cost = EXCLUDED.cost,
			error_message = EXCLUDED.error_message,
			recorded_at = EXCLUDED.recorded_at;
	`
	for _, o := range outcomes {
		_, err := s.pool.Exec(ctx, query,
			o.RequestID,
			o.Source,
			o.Status,
			o.Duration.Milliseconds(),
			o.Cost,
			o.Error,
			o.At,
		)
		if err != nil {
			return fmt.Errorf("failed to record outcome for %s: %w", o.Source, err)
		}
	}
	return nil
}

// GetRun retrieves a single run by request id.
func (s *RunStore) GetRun(ctx context.Context, requestID string) (store.Run, error) {
	query := `
		SELECT request_id, company, depth, started_at, finished_at, status, total_cost, error_message
		FROM research_runs
		WHERE request_id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, requestID).Scan(
		&run.RequestID,
		&run.Company,
		&run.Depth,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.TotalCost,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}
