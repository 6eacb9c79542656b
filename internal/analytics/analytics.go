// Package analytics is the read side: dashboard metrics, storage statistics,
// and the recent-activity feed, all computed from committed state. Nothing
// here takes locks or writes entity rows.
package analytics

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"cinemitr/internal/cache"
	"cinemitr/internal/models"
	"cinemitr/internal/telemetry"
)

// Metrics is the dashboard headline view.
type Metrics struct {
	TotalMovies    int     `json:"total_movies"`
	ContentItems   int     `json:"content_items"`
	Uploaded       int     `json:"uploaded"`
	Pending        int     `json:"pending"`
	UploadRate     float64 `json:"upload_rate"`
	StorageUsedGB  float64 `json:"storage_used_gb"`
	StorageTotalGB float64 `json:"storage_total_gb"`
	ActiveUploads  int     `json:"active_uploads"`
	FailedUploads  int     `json:"failed_uploads"`
}

// TypeStats aggregates content items of one type over rows with a known size.
type TypeStats struct {
	FileCount int   `json:"file_count"`
	TotalSize int64 `json:"total_size_bytes"`
	AvgSize   int64 `json:"avg_size_bytes"`
	MinSize   int64 `json:"min_size_bytes"`
	MaxSize   int64 `json:"max_size_bytes"`
}

// LargeFile is one row of the largest-files report.
type LargeFile struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
	Type   string  `json:"type"`
}

// StorageReport is the full storage view.
type StorageReport struct {
	TotalSizeGB  float64              `json:"total_size_gb"`
	FileCount    int                  `json:"file_count"`
	ByType       map[string]TypeStats `json:"by_type"`
	LargestFiles []LargeFile          `json:"largest_files"`
}

// Engine computes derived views over the entity tables. The optional cache
// keeps hot aggregations out of Postgres; a nil cache means every call hits
// the database.
type Engine struct {
	pool           *pgxpool.Pool
	cache          *cache.Cache
	storageTotalGB float64
}

func NewEngine(pool *pgxpool.Pool, c *cache.Cache, storageTotalGB float64) *Engine {
	if storageTotalGB <= 0 {
		storageTotalGB = 1000
	}
	return &Engine{pool: pool, cache: c, storageTotalGB: storageTotalGB}
}

const metricsCacheKey = "dashboard_metrics"

// DashboardMetrics returns headline counts and rates. Served from cache when
// fresh; the cache is read-through with TTL expiry, never blocking writers.
func (e *Engine) DashboardMetrics(ctx context.Context) (Metrics, error) {
	if e.cache != nil {
		var m Metrics
		hit, err := e.cache.Get(ctx, metricsCacheKey, &m)
		if err != nil {
			log.Printf("metrics cache read failed, recomputing: %v", err)
		} else if hit {
			telemetry.MetricsCacheHits.Inc()
			return m, nil
		}
		telemetry.MetricsCacheMisses.Inc()
	}

	var m Metrics
	var storageBytes int64
	err := e.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM movies),
			(SELECT COUNT(*) FROM content_items),
			(SELECT COUNT(*) FROM content_items WHERE status = 'Uploaded'),
			(SELECT COUNT(*) FROM content_items WHERE status IN ('New', 'In Progress')),
			(SELECT COALESCE(SUM(file_size_bytes), 0) FROM content_items WHERE file_size_bytes IS NOT NULL),
			(SELECT COUNT(*) FROM uploads WHERE status IN ('pending', 'uploading', 'processing')),
			(SELECT COUNT(*) FROM uploads WHERE status = 'failed')
	`).Scan(&m.TotalMovies, &m.ContentItems, &m.Uploaded, &m.Pending, &storageBytes, &m.ActiveUploads, &m.FailedUploads)
	if err != nil {
		return Metrics{}, fmt.Errorf("dashboard metrics: %w", err)
	}

	m.UploadRate = UploadRate(m.Uploaded, m.ContentItems)
	m.StorageUsedGB = BytesToGB(storageBytes)
	m.StorageTotalGB = e.storageTotalGB

	if e.cache != nil {
		if err := e.cache.Set(ctx, metricsCacheKey, m); err != nil {
			log.Printf("metrics cache write failed: %v", err)
		}
	}
	return m, nil
}

// StatusDistribution counts content items per status.
func (e *Engine) StatusDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := e.pool.Query(ctx, `SELECT status, COUNT(*) FROM content_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("status distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("status distribution: %w", err)
		}
		dist[status] = count
	}
	return dist, rows.Err()
}

// PriorityDistribution counts content items per priority.
func (e *Engine) PriorityDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := e.pool.Query(ctx, `SELECT priority, COUNT(*) FROM content_items GROUP BY priority`)
	if err != nil {
		return nil, fmt.Errorf("priority distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, fmt.Errorf("priority distribution: %w", err)
		}
		dist[priority] = count
	}
	return dist, rows.Err()
}

// StorageStats aggregates per content type over rows with a non-null size.
// Types without any sized rows are simply absent from the mapping.
func (e *Engine) StorageStats(ctx context.Context) (StorageReport, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT content_type, COUNT(*), SUM(file_size_bytes), AVG(file_size_bytes), MIN(file_size_bytes), MAX(file_size_bytes)
		FROM content_items
		WHERE file_size_bytes IS NOT NULL
		GROUP BY content_type
	`)
	if err != nil {
		return StorageReport{}, fmt.Errorf("storage stats: %w", err)
	}
	defer rows.Close()

	report := StorageReport{ByType: make(map[string]TypeStats)}
	var totalBytes int64
	for rows.Next() {
		var contentType string
		var ts TypeStats
		var avg float64
		if err := rows.Scan(&contentType, &ts.FileCount, &ts.TotalSize, &avg, &ts.MinSize, &ts.MaxSize); err != nil {
			return StorageReport{}, fmt.Errorf("storage stats: %w", err)
		}
		ts.AvgSize = int64(math.Round(avg))
		report.ByType[contentType] = ts
		report.FileCount += ts.FileCount
		totalBytes += ts.TotalSize
	}
	if err := rows.Err(); err != nil {
		return StorageReport{}, fmt.Errorf("storage stats: %w", err)
	}
	report.TotalSizeGB = BytesToGB(totalBytes)

	largest, err := e.pool.Query(ctx, `
		SELECT name, file_size_bytes, content_type
		FROM content_items
		WHERE file_size_bytes IS NOT NULL
		ORDER BY file_size_bytes DESC
		LIMIT 10
	`)
	if err != nil {
		return StorageReport{}, fmt.Errorf("largest files: %w", err)
	}
	defer largest.Close()
	for largest.Next() {
		var name, contentType string
		var size int64
		if err := largest.Scan(&name, &size, &contentType); err != nil {
			return StorageReport{}, fmt.Errorf("largest files: %w", err)
		}
		report.LargestFiles = append(report.LargestFiles, LargeFile{
			Name:   name,
			SizeMB: BytesToMB(size),
			Type:   contentType,
		})
	}
	return report, largest.Err()
}

// RecentActivity reads the newest audit rows, most recent first. Each call
// re-queries current state; the result is a bounded snapshot, not a cursor.
func (e *Engine) RecentActivity(ctx context.Context, limit int) ([]models.ActivityRecord, error) {
	if limit < 1 || limit > 500 {
		limit = 20
	}
	rows, err := e.pool.Query(ctx, `
		SELECT table_name, record_id, action, new_values->>'status', changed_by, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var feed []models.ActivityRecord
	for rows.Next() {
		var r models.ActivityRecord
		if err := rows.Scan(&r.TableName, &r.RecordID, &r.Action, &r.Status, &r.Actor, &r.At); err != nil {
			return nil, fmt.Errorf("recent activity: %w", err)
		}
		feed = append(feed, r)
	}
	return feed, rows.Err()
}

// UploadRate is uploaded/total as a fraction, 0 for an empty library.
func UploadRate(uploaded, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(uploaded) / float64(total)
}

// BytesToGB converts to gibibytes rounded to two decimals.
func BytesToGB(b int64) float64 {
	return math.Round(float64(b)/(1<<30)*100) / 100
}

// BytesToMB converts to mebibytes rounded to two decimals.
func BytesToMB(b int64) float64 {
	return math.Round(float64(b)/(1<<20)*100) / 100
}
