// Package storage selects and assembles the report persistence backend:
// in-memory, Postgres (reports plus run history), or Google Cloud Storage,
// optionally mirrored to a GCS archive bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/research"
	"github.com/JakeFAU/company-research/internal/storage/gcs"
	"github.com/JakeFAU/company-research/internal/storage/memory"
	"github.com/JakeFAU/company-research/internal/storage/postgres"
	"github.com/JakeFAU/company-research/internal/store"
)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	Postgres      postgres.Config
	Migrate       bool
	Bucket        string
	Prefix        string
	ArchiveBucket string
}

// Backend is an opened persistence layer. Runs is nil unless the backend
// records run history.
type Backend struct {
	Reports research.ReportStore
	Runs    store.RunRepository
	closers []func()
}

// Close releases every underlying client.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		b.Reports = memory.NewReportStore()
	case BackendPostgres:
		pool, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				b.Close()
				return nil, err
			}
		}
		reports, err := postgres.NewReportStoreWithPool(pool, cfg.Postgres.ReportsTable)
		if err != nil {
			b.Close()
			return nil, err
		}
		runs, err := postgres.NewRunStoreWithPool(pool)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Reports, b.Runs = reports, runs
	case BackendGCS:
		reports, closeFn, err := openGCS(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, closeFn)
		b.Reports = reports
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.ArchiveBucket != "" && cfg.Backend != BackendGCS {
		archive, closeFn, err := openGCS(ctx, cfg.ArchiveBucket, cfg.Prefix)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, closeFn)
		b.Reports = NewMirror(b.Reports, logger, archive)
	}
	logger.Info("report storage ready",
		zap.String("backend", cfg.Backend),
		zap.Bool("run_history", b.Runs != nil),
		zap.Bool("archive", cfg.ArchiveBucket != ""),
	)
	return b, nil
}

func openGCS(ctx context.Context, bucket, prefix string) (*gcs.ReportStore, func(), error) {
	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", bucket, err)
	}
	reports, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: prefix})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return reports, func() { _ = client.Close() }, nil
}

// Mirror writes to a primary store and best-effort to archives. Reads only
// hit the primary.
type Mirror struct {
	primary  research.ReportStore
	archives []research.ReportStore
	logger   *zap.Logger
}

// NewMirror wraps primary with archive copies.
func NewMirror(primary research.ReportStore, logger *zap.Logger, archives ...research.ReportStore) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{primary: primary, archives: archives, logger: logger}
}

// SaveReport saves to the primary and then every archive. Archive failures
// are logged and joined into the returned error only when the primary also
// failed.
func (m *Mirror) SaveReport(ctx context.Context, report research.Report) error {
	primaryErr := m.primary.SaveReport(ctx, report)
	var archiveErrs []error
	for _, archive := range m.archives {
		if err := archive.SaveReport(ctx, report); err != nil {
			m.logger.Warn("report archive failed", zap.String("request_id", report.RequestID), zap.Error(err))
			archiveErrs = append(archiveErrs, err)
		}
	}
	if primaryErr != nil {
		return errors.Join(append([]error{primaryErr}, archiveErrs...)...)
	}
	return nil
}

// GetReport reads from the primary store.
func (m *Mirror) GetReport(ctx context.Context, requestID string) (research.Report, error) {
	return m.primary.GetReport(ctx, requestID)
}
