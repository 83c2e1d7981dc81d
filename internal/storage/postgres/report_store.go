package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/company-research/internal/research"
)

const defaultReportsTable = "research_reports"

// ReportStore persists finished reports as JSONB rows.
type ReportStore struct {
	pool  dbPool
	table string
}

// NewReportStore opens a pool and returns a store writing to cfg.ReportsTable.
func NewReportStore(ctx context.Context, cfg Config) (*ReportStore, error) {
	pool, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewReportStoreWithPool(pool, cfg.ReportsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewReportStoreWithPool(pool dbPool, table string) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultReportsTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ReportStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveReport upserts the report keyed by request id.
func (s *ReportStore) SaveReport(ctx context.Context, report research.Report) error {
	if report.RequestID == "" {
		return fmt.Errorf("report request id is required")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	request_id,
	company_name,
	company_domain,
	research_depth,
	status,
	total_cost,
	payload,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (request_id) DO UPDATE SET
	status = EXCLUDED.status,
	total_cost = EXCLUDED.total_cost,
	payload = EXCLUDED.payload`, s.table)

	args := []any{
		report.RequestID,
		report.CompanyName,
		report.CompanyDomain,
		report.Depth,
		string(report.Status),
		report.TotalCost,
		payload,
		report.Timestamp,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport loads a report by request id.
func (s *ReportStore) GetReport(ctx context.Context, requestID string) (research.Report, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE request_id = $1`, s.table)
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, requestID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return research.Report{}, research.ErrNotFound
		}
		return research.Report{}, fmt.Errorf("select report: %w", err)
	}
	var report research.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return research.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
