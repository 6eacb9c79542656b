// Package store owns the Postgres entity rows and the transactional mutator
// that is the sole writer of entity status.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cinemitr/internal/lifecycle"
	"cinemitr/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for read-only collaborators (analytics).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

const movieColumns = `id, title, genre, release_date, duration_minutes, description, director, rating, language, status, created_at, updated_at`

func scanMovie(row pgx.Row) (models.Movie, error) {
	var m models.Movie
	err := row.Scan(&m.ID, &m.Title, &m.Genre, &m.ReleaseDate, &m.DurationMin, &m.Description,
		&m.Director, &m.Rating, &m.Language, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// GetMovie fetches a movie by id.
func (s *Store) GetMovie(ctx context.Context, id string) (models.Movie, error) {
	m, err := scanMovie(s.pool.QueryRow(ctx, `SELECT `+movieColumns+` FROM movies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Movie{}, fmt.Errorf("movie %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.Movie{}, &lifecycle.PersistenceError{Op: "get movie", Err: err}
	}
	return m, nil
}

const contentColumns = `id, name, content_type, status, priority, description, file_path, file_size_bytes,
	duration_seconds, thumbnail_url, video_url, resolution, quality, movie_id, uploaded_at, processed_at,
	created_at, updated_at`

func scanContentItem(row pgx.Row) (models.ContentItem, error) {
	var c models.ContentItem
	err := row.Scan(&c.ID, &c.Name, &c.ContentType, &c.Status, &c.Priority, &c.Description,
		&c.FilePath, &c.FileSizeBytes, &c.DurationSec, &c.ThumbnailURL, &c.VideoURL,
		&c.Resolution, &c.Quality, &c.MovieID, &c.UploadedAt, &c.ProcessedAt,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetContentItem fetches a content item by id.
func (s *Store) GetContentItem(ctx context.Context, id string) (models.ContentItem, error) {
	c, err := scanContentItem(s.pool.QueryRow(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, fmt.Errorf("content item %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.ContentItem{}, &lifecycle.PersistenceError{Op: "get content item", Err: err}
	}
	return c, nil
}

const uploadColumns = `id, file_name, original_filename, file_size_bytes, mime_type, status, progress_percentage,
	bytes_uploaded, error_message, checksum, content_item_id, started_at, completed_at, created_at, updated_at`

func scanUpload(row pgx.Row) (models.Upload, error) {
	var u models.Upload
	err := row.Scan(&u.ID, &u.FileName, &u.OriginalName, &u.FileSizeBytes, &u.MimeType, &u.Status,
		&u.Progress, &u.BytesUploaded, &u.ErrorMessage, &u.Checksum, &u.ContentItemID,
		&u.StartedAt, &u.CompletedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUpload fetches an upload by id.
func (s *Store) GetUpload(ctx context.Context, id string) (models.Upload, error) {
	u, err := scanUpload(s.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Upload{}, fmt.Errorf("upload %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.Upload{}, &lifecycle.PersistenceError{Op: "get upload", Err: err}
	}
	return u, nil
}

const exportColumns = `id, format, status, filters, file_path, file_size_bytes, record_count, error_message,
	started_at, completed_at, created_at, updated_at`

func scanExportJob(row pgx.Row) (models.ExportJob, error) {
	var j models.ExportJob
	err := row.Scan(&j.ID, &j.Format, &j.Status, &j.Filters, &j.FilePath, &j.FileSizeBytes,
		&j.RecordCount, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// GetExportJob fetches an export job by id.
func (s *Store) GetExportJob(ctx context.Context, id string) (models.ExportJob, error) {
	j, err := scanExportJob(s.pool.QueryRow(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ExportJob{}, fmt.Errorf("export job %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.ExportJob{}, &lifecycle.PersistenceError{Op: "get export job", Err: err}
	}
	return j, nil
}

// ContentFilters narrows content listings and export selections.
type ContentFilters struct {
	Status      string `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// ListContentItems returns a filtered page of content items ordered by most
// recent update, plus the unpaged total.
func (s *Store) ListContentItems(ctx context.Context, f ContentFilters, page, limit int) ([]models.ContentItem, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	where := `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR content_type = $2) AND ($3 = '' OR priority = $3)`

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content_items `+where,
		f.Status, f.ContentType, f.Priority).Scan(&total)
	if err != nil {
		return nil, 0, &lifecycle.PersistenceError{Op: "count content items", Err: err}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+contentColumns+` FROM content_items `+where+`
		ORDER BY updated_at DESC
		LIMIT $4 OFFSET $5
	`, f.Status, f.ContentType, f.Priority, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, &lifecycle.PersistenceError{Op: "list content items", Err: err}
	}
	defer rows.Close()

	var items []models.ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, 0, &lifecycle.PersistenceError{Op: "scan content item", Err: err}
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &lifecycle.PersistenceError{Op: "list content items", Err: err}
	}
	return items, total, nil
}

// UpdateContentThumbnail records a generated thumbnail location. Not a status
// write, but still audited as a plain UPDATE in its own transaction.
func (s *Store) UpdateContentThumbnail(ctx context.Context, id, thumbnailURL, actor string) error {
	return s.withTx(ctx, "update thumbnail", func(tx pgx.Tx) error {
		before, err := lockContentItem(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE content_items SET thumbnail_url = $2, updated_at = NOW() WHERE id = $1
		`, id, thumbnailURL)
		if err != nil {
			return &lifecycle.PersistenceError{Op: "update thumbnail", Err: err}
		}
		after := before
		after.ThumbnailURL = &thumbnailURL
		return s.auditContentUpdate(ctx, tx, before, after, actor, "thumbnail generated")
	})
}
