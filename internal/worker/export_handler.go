package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cinemitr/internal/config"
	"cinemitr/internal/lifecycle"
	"cinemitr/internal/models"
	"cinemitr/internal/store"
)

type artifactUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// ExportHandler materializes export jobs into CSV or JSON artifacts.
type ExportHandler struct {
	cfg      config.Config
	store    *store.Store
	uploader artifactUploader
}

// NewExportHandler constructs the handler and chooses an uploader. When
// EXPORT_S3_BUCKET is set artifacts go to S3, otherwise to the local
// export directory.
func NewExportHandler(ctx context.Context, cfg config.Config, st *store.Store) (*ExportHandler, error) {
	var up artifactUploader
	if cfg.ExportS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.ExportS3Bucket}
	} else {
		baseDir := cfg.ExportOutputDir
		if baseDir == "" {
			baseDir = "./exports"
		}
		up = &localUploader{baseDir: baseDir}
	}
	return &ExportHandler{cfg: cfg, store: st, uploader: up}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ExportS3Region),
	}
	if cfg.ExportS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ExportS3Endpoint,
					HostnameImmutable: cfg.ExportS3PathStyle,
					SigningRegion:     cfg.ExportS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ExportS3PathStyle
	}), nil
}

// Handle runs one export job end to end: mark it processing, collect the
// matching content rows, write the artifact, and record completion.
func (h *ExportHandler) Handle(ctx context.Context, jobID string) error {
	job, err := h.store.GetExportJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.ExportCompleted || job.Status == models.ExportFailed {
		return nil
	}
	if job.Status == models.ExportPending {
		if _, err := h.store.UpdateStatus(ctx, lifecycle.VariantExportJob, jobID, models.ExportProcessing, workerActor, "export picked up"); err != nil {
			return err
		}
	}

	var filters store.ContentFilters
	if len(job.Filters) > 0 {
		if err := json.Unmarshal(job.Filters, &filters); err != nil {
			return fmt.Errorf("decode export filters: %w", err)
		}
	}

	items, err := h.collect(ctx, filters)
	if err != nil {
		return err
	}

	body, contentType, ext, err := serialize(job.Format, items)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("export-%s-%s.%s", jobID, time.Now().UTC().Format("20060102T150405"), ext)
	path, err := h.uploader.Upload(ctx, key, body, contentType)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}

	_, err = h.store.CompleteExport(ctx, jobID, path, int64(len(body)), len(items), workerActor)
	return err
}

// collect pages through content items until the filter set is exhausted.
func (h *ExportHandler) collect(ctx context.Context, f store.ContentFilters) ([]models.ContentItem, error) {
	const pageSize = 500
	var all []models.ContentItem
	for page := 1; ; page++ {
		items, _, err := h.store.ListContentItems(ctx, f, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < pageSize {
			return all, nil
		}
	}
}

func serialize(format string, items []models.ContentItem) ([]byte, string, string, error) {
	switch format {
	case "json":
		body, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return nil, "", "", fmt.Errorf("encode json export: %w", err)
		}
		return body, "application/json", "json", nil
	case "csv":
		buf := &bytes.Buffer{}
		w := csv.NewWriter(buf)
		header := []string{"id", "name", "content_type", "status", "priority", "file_size_bytes", "created_at"}
		if err := w.Write(header); err != nil {
			return nil, "", "", fmt.Errorf("write csv header: %w", err)
		}
		for _, it := range items {
			size := ""
			if it.FileSizeBytes != nil {
				size = strconv.FormatInt(*it.FileSizeBytes, 10)
			}
			row := []string{
				it.ID,
				it.Name,
				it.ContentType,
				string(it.Status),
				it.Priority,
				size,
				it.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := w.Write(row); err != nil {
				return nil, "", "", fmt.Errorf("write csv row: %w", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", "", fmt.Errorf("flush csv: %w", err)
		}
		return buf.Bytes(), "text/csv", "csv", nil
	default:
		return nil, "", "", fmt.Errorf("unsupported export format %q", format)
	}
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
