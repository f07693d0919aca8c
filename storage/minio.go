// Package storage keeps generation reports in a MinIO (S3 compatible) bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"CalmFM/config"
	"CalmFM/logger"
	"CalmFM/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const reportPrefix = "generations/"

// ErrReportNotFound is returned when no report exists for a track.
var ErrReportNotFound = errors.New("report not found")

// ReportStore reads and writes one JSON report object per track.
type ReportStore struct {
	client *minio.Client
	bucket string
}

// BucketStats summarizes the stored reports.
type BucketStats struct {
	Objects   int
	TotalSize int64
	Latest    time.Time
}

// NewReportStore connects to MinIO and creates the bucket when missing.
func NewReportStore(ctx context.Context, cfg *config.Config) (*ReportStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("created MinIO bucket", logger.String("bucket", cfg.MinioBucket))
	}

	return &ReportStore{client: client, bucket: cfg.MinioBucket}, nil
}

func reportKey(trackID string) string {
	return path.Join(reportPrefix, trackID+".json")
}

// PutReport writes the report, replacing an earlier one for the same track.
func (s *ReportStore) PutReport(ctx context.Context, report *model.GenerationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, reportKey(report.TrackID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload report for %s: %w", report.TrackID, err)
	}
	return nil
}

// GetReport reads the report of trackID.
func (s *ReportStore) GetReport(ctx context.Context, trackID string) (*model.GenerationReport, error) {
	object, err := s.client.GetObject(ctx, s.bucket, reportKey(trackID), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to open report for %s: %w", trackID, err)
	}
	defer object.Close()

	// GetObject is lazy; a missing key only surfaces on read.
	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to read report for %s: %w", trackID, err)
	}

	var report model.GenerationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report for %s: %w", trackID, err)
	}
	return &report, nil
}

// DeleteReport removes the report of trackID. Missing reports are not an error.
func (s *ReportStore) DeleteReport(ctx context.Context, trackID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, reportKey(trackID), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete report for %s: %w", trackID, err)
	}
	return nil
}

// Stats walks the report prefix and totals object count and size.
func (s *ReportStore) Stats(ctx context.Context) (*BucketStats, error) {
	stats := &BucketStats{}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: reportPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list reports: %w", obj.Err)
		}
		stats.Objects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.Latest) {
			stats.Latest = obj.LastModified
		}
	}
	return stats, nil
}

// Bucket returns the bucket name.
func (s *ReportStore) Bucket() string {
	return s.bucket
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchKey"
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
