// Package gcs archives research reports as JSON objects in Google Cloud
// Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/company-research/internal/research"
)

const defaultPrefix = "reports"

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Prefix string
}

// ReportStore writes one object per report: gs://{bucket}/{prefix}/{id}.json.
type ReportStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed report store.
func New(client *storage.Client, cfg Config) (*ReportStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ReportStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// ObjectName returns the object key for a request id.
func (s *ReportStore) ObjectName(requestID string) string {
	return path.Join(s.prefix, requestID+".json")
}

// URI returns the gs:// location of a report.
func (s *ReportStore) URI(requestID string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.ObjectName(requestID))
}

// SaveReport uploads the report as JSON.
func (s *ReportStore) SaveReport(ctx context.Context, report research.Report) error {
	if strings.TrimSpace(report.RequestID) == "" {
		return fmt.Errorf("report request id is required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	writer := s.client.Bucket(s.bucket).Object(s.ObjectName(report.RequestID)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// GetReport downloads and decodes a report.
func (s *ReportStore) GetReport(ctx context.Context, requestID string) (research.Report, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.ObjectName(requestID)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return research.Report{}, research.ErrNotFound
		}
		return research.Report{}, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return research.Report{}, fmt.Errorf("read object: %w", err)
	}
	var report research.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return research.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
