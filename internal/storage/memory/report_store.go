// Package memory keeps research reports in process memory for development and
// tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/company-research/internal/research"
)

// ReportStore is a concurrency-safe in-memory research.ReportStore. Reports
// are stored as JSON so callers never share maps with the store.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string][]byte
}

// NewReportStore constructs an empty store.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string][]byte)}
}

// SaveReport stores or replaces a report.
func (s *ReportStore) SaveReport(_ context.Context, report research.Report) error {
	if report.RequestID == "" {
		return fmt.Errorf("report request id is required")
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RequestID] = raw
	return nil
}

// GetReport returns a copy of the stored report.
func (s *ReportStore) GetReport(_ context.Context, requestID string) (research.Report, error) {
	s.mu.RLock()
	raw, ok := s.reports[requestID]
	s.mu.RUnlock()
	if !ok {
		return research.Report{}, research.ErrNotFound
	}
	var report research.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return research.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// Len returns the number of stored reports.
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
