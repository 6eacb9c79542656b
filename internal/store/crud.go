package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cinemitr/internal/audit"
	"cinemitr/internal/lifecycle"
	"cinemitr/internal/models"
	"cinemitr/internal/telemetry"
)

// CreateMovieParams collects inputs required to insert a movie.
type CreateMovieParams struct {
	Title       string     `json:"title"`
	Genre       string     `json:"genre"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	DurationMin *int       `json:"duration_minutes,omitempty"`
	Description *string    `json:"description,omitempty"`
	Director    *string    `json:"director,omitempty"`
	Rating      *string    `json:"rating,omitempty"`
	Language    *string    `json:"language,omitempty"`
}

// InsertMovie creates a movie in its initial status with an INSERT audit row.
func (s *Store) InsertMovie(ctx context.Context, p CreateMovieParams, actor string) (models.Movie, error) {
	now := time.Now().UTC()
	m := models.Movie{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Genre:       p.Genre,
		ReleaseDate: p.ReleaseDate,
		DurationMin: p.DurationMin,
		Description: p.Description,
		Director:    p.Director,
		Rating:      p.Rating,
		Language:    p.Language,
		Status:      lifecycle.InitialStatus(lifecycle.VariantMovie),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.withTx(ctx, "insert movie", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO movies (id, title, genre, release_date, duration_minutes, description, director, rating, language, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`, m.ID, m.Title, m.Genre, m.ReleaseDate, m.DurationMin, m.Description, m.Director, m.Rating, m.Language, m.Status, now)
		if err != nil {
			return mapPgError("insert movie", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantMovie),
			RecordID: m.ID,
			Action:   models.ActionInsert,
			New:      audit.MovieSnapshot(m),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		return nil
	})
	if err != nil {
		return models.Movie{}, err
	}
	telemetry.AuditRecords.Inc()
	return m, nil
}

// CreateContentParams collects inputs required to insert a content item.
type CreateContentParams struct {
	Name          string  `json:"name"`
	ContentType   string  `json:"content_type"`
	Priority      string  `json:"priority"`
	Description   *string `json:"description,omitempty"`
	FilePath      *string `json:"file_path,omitempty"`
	FileSizeBytes *int64  `json:"file_size_bytes,omitempty"`
	DurationSec   *int    `json:"duration_seconds,omitempty"`
	VideoURL      *string `json:"video_url,omitempty"`
	Resolution    *string `json:"resolution,omitempty"`
	Quality       *string `json:"quality,omitempty"`
	MovieID       *string `json:"movie_id,omitempty"`
}

// InsertContentItem creates a content item in its initial status with an
// INSERT audit row. A movie reference, if given, must resolve.
func (s *Store) InsertContentItem(ctx context.Context, p CreateContentParams, actor string) (models.ContentItem, error) {
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	c := models.ContentItem{
		ID:            uuid.New().String(),
		Name:          p.Name,
		ContentType:   p.ContentType,
		Status:        lifecycle.InitialStatus(lifecycle.VariantContentItem),
		Priority:      p.Priority,
		Description:   p.Description,
		FilePath:      p.FilePath,
		FileSizeBytes: p.FileSizeBytes,
		DurationSec:   p.DurationSec,
		VideoURL:      p.VideoURL,
		Resolution:    p.Resolution,
		Quality:       p.Quality,
		MovieID:       p.MovieID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.withTx(ctx, "insert content item", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO content_items (id, name, content_type, status, priority, description, file_path, file_size_bytes,
				duration_seconds, video_url, resolution, quality, movie_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		`, c.ID, c.Name, c.ContentType, c.Status, c.Priority, c.Description, c.FilePath, c.FileSizeBytes,
			c.DurationSec, c.VideoURL, c.Resolution, c.Quality, c.MovieID, now)
		if err != nil {
			return mapPgError("insert content item", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantContentItem),
			RecordID: c.ID,
			Action:   models.ActionInsert,
			New:      audit.ContentItemSnapshot(c),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		return nil
	})
	if err != nil {
		return models.ContentItem{}, err
	}
	telemetry.AuditRecords.Inc()
	return c, nil
}

// CreateUploadParams collects inputs required to insert an upload.
type CreateUploadParams struct {
	FileName      string  `json:"file_name"`
	OriginalName  string  `json:"original_filename"`
	FileSizeBytes int64   `json:"file_size_bytes"`
	MimeType      string  `json:"mime_type"`
	Checksum      *string `json:"checksum,omitempty"`
	ContentItemID *string `json:"content_item_id,omitempty"`
}

// InsertUpload creates an upload row in pending status.
func (s *Store) InsertUpload(ctx context.Context, p CreateUploadParams, actor string) (models.Upload, error) {
	now := time.Now().UTC()
	u := models.Upload{
		ID:            uuid.New().String(),
		FileName:      p.FileName,
		OriginalName:  p.OriginalName,
		FileSizeBytes: p.FileSizeBytes,
		MimeType:      p.MimeType,
		Status:        lifecycle.InitialStatus(lifecycle.VariantUpload),
		Checksum:      p.Checksum,
		ContentItemID: p.ContentItemID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.withTx(ctx, "insert upload", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO uploads (id, file_name, original_filename, file_size_bytes, mime_type, status, progress_percentage,
				bytes_uploaded, checksum, content_item_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8, $9, $9)
		`, u.ID, u.FileName, u.OriginalName, u.FileSizeBytes, u.MimeType, u.Status, u.Checksum, u.ContentItemID, now)
		if err != nil {
			return mapPgError("insert upload", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantUpload),
			RecordID: u.ID,
			Action:   models.ActionInsert,
			New:      audit.UploadSnapshot(u),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		return nil
	})
	if err != nil {
		return models.Upload{}, err
	}
	telemetry.AuditRecords.Inc()
	return u, nil
}

// CreateExportParams collects inputs required to insert an export job.
type CreateExportParams struct {
	Format  string          `json:"format"`
	Filters json.RawMessage `json:"filters,omitempty"`
}

// InsertExportJob creates an export job in pending status.
func (s *Store) InsertExportJob(ctx context.Context, p CreateExportParams, actor string) (models.ExportJob, error) {
	now := time.Now().UTC()
	j := models.ExportJob{
		ID:        uuid.New().String(),
		Format:    p.Format,
		Status:    lifecycle.InitialStatus(lifecycle.VariantExportJob),
		Filters:   p.Filters,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.withTx(ctx, "insert export job", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO export_jobs (id, format, status, filters, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, j.ID, j.Format, j.Status, j.Filters, now)
		if err != nil {
			return mapPgError("insert export job", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantExportJob),
			RecordID: j.ID,
			Action:   models.ActionInsert,
			New:      audit.ExportJobSnapshot(j),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		return nil
	})
	if err != nil {
		return models.ExportJob{}, err
	}
	telemetry.AuditRecords.Inc()
	return j, nil
}

// DeleteMovie removes a movie. Child content items are detached first, each
// null-out audited as its own UPDATE, then the movie row is deleted with a
// DELETE audit row, all in one transaction.
func (s *Store) DeleteMovie(ctx context.Context, id, actor string) error {
	return s.withTx(ctx, "delete movie", func(tx pgx.Tx) error {
		m, err := lockMovie(ctx, tx, id)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT `+contentColumns+` FROM content_items WHERE movie_id = $1 FOR UPDATE`, id)
		if err != nil {
			return mapPgError("lock child content items", err)
		}
		var children []models.ContentItem
		for rows.Next() {
			c, err := scanContentItem(rows)
			if err != nil {
				rows.Close()
				return mapPgError("scan child content item", err)
			}
			children = append(children, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapPgError("lock child content items", err)
		}

		for _, child := range children {
			if _, err := tx.Exec(ctx, `UPDATE content_items SET movie_id = NULL, updated_at = NOW() WHERE id = $1`, child.ID); err != nil {
				return mapPgError("detach content item", err)
			}
			detached := child
			detached.MovieID = nil
			if err := s.auditContentUpdate(ctx, tx, child, detached, actor, "movie deleted"); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id); err != nil {
			return mapPgError("delete movie", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantMovie),
			RecordID: id,
			Action:   models.ActionDelete,
			Old:      audit.MovieSnapshot(m),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		telemetry.AuditRecords.Inc()
		return nil
	})
}

// DeleteContentItem removes a content item, detaching its uploads first with
// per-row UPDATE audits, inside one transaction.
func (s *Store) DeleteContentItem(ctx context.Context, id, actor string) error {
	return s.withTx(ctx, "delete content item", func(tx pgx.Tx) error {
		c, err := lockContentItem(ctx, tx, id)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE content_item_id = $1 FOR UPDATE`, id)
		if err != nil {
			return mapPgError("lock child uploads", err)
		}
		var children []models.Upload
		for rows.Next() {
			u, err := scanUpload(rows)
			if err != nil {
				rows.Close()
				return mapPgError("scan child upload", err)
			}
			children = append(children, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapPgError("lock child uploads", err)
		}

		for _, child := range children {
			if _, err := tx.Exec(ctx, `UPDATE uploads SET content_item_id = NULL, updated_at = NOW() WHERE id = $1`, child.ID); err != nil {
				return mapPgError("detach upload", err)
			}
			if _, err := audit.Record(ctx, tx, audit.Entry{
				Table:    string(lifecycle.VariantUpload),
				RecordID: child.ID,
				Action:   models.ActionUpdate,
				Old:      audit.UploadSnapshot(child),
				New:      audit.UploadSnapshot(child),
				Actor:    actor,
				Reason:   "content item deleted",
			}); err != nil {
				return mapPgError("append audit record", err)
			}
			telemetry.AuditRecords.Inc()
		}

		if _, err := tx.Exec(ctx, `DELETE FROM content_items WHERE id = $1`, id); err != nil {
			return mapPgError("delete content item", err)
		}
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantContentItem),
			RecordID: id,
			Action:   models.ActionDelete,
			Old:      audit.ContentItemSnapshot(c),
			Actor:    actor,
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		telemetry.AuditRecords.Inc()
		return nil
	})
}

// CompleteExport records the artifact metadata and moves the job to
// completed in one transaction. Used by the export worker after upload.
func (s *Store) CompleteExport(ctx context.Context, id, filePath string, fileSize int64, recordCount int, actor string) (StatusChange, error) {
	var change StatusChange
	err := s.withTx(ctx, "complete export", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE export_jobs SET file_path = $2, file_size_bytes = $3, record_count = $4, updated_at = NOW()
			WHERE id = $1
		`, id, filePath, fileSize, recordCount); err != nil {
			return mapPgError("record export artifact", err)
		}
		var err error
		change, err = updateStatusOnTx(ctx, tx, lifecycle.VariantExportJob, id, models.ExportCompleted, actor, "export artifact written")
		return err
	})
	if err != nil {
		telemetry.ObserveRejection(err)
		return StatusChange{}, err
	}
	telemetry.TransitionsApplied.Inc()
	telemetry.AuditRecords.Inc()
	return change, nil
}

// FailExport records the failure message and moves the job to failed.
func (s *Store) FailExport(ctx context.Context, id, message, actor string) (StatusChange, error) {
	var change StatusChange
	err := s.withTx(ctx, "fail export", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE export_jobs SET error_message = $2, updated_at = NOW() WHERE id = $1
		`, id, message); err != nil {
			return mapPgError("record export error", err)
		}
		var err error
		change, err = updateStatusOnTx(ctx, tx, lifecycle.VariantExportJob, id, models.ExportFailed, actor, "export failed")
		return err
	})
	if err != nil {
		telemetry.ObserveRejection(err)
		return StatusChange{}, err
	}
	telemetry.TransitionsApplied.Inc()
	telemetry.AuditRecords.Inc()
	return change, nil
}

// RecordUploadProgress advances byte counters on an upload without touching
// status; the write is still audited.
func (s *Store) RecordUploadProgress(ctx context.Context, id string, bytesUploaded int64, actor string) (models.Upload, error) {
	var after models.Upload
	err := s.withTx(ctx, "record upload progress", func(tx pgx.Tx) error {
		before, err := lockUpload(ctx, tx, id)
		if err != nil {
			return err
		}
		progress := 0.0
		if before.FileSizeBytes > 0 {
			progress = float64(bytesUploaded) / float64(before.FileSizeBytes) * 100
			if progress > 100 {
				progress = 100
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE uploads SET bytes_uploaded = $2, progress_percentage = $3, updated_at = NOW() WHERE id = $1
		`, id, bytesUploaded, progress); err != nil {
			return mapPgError("record upload progress", err)
		}
		after = before
		after.BytesUploaded = bytesUploaded
		after.Progress = progress
		if _, err := audit.Record(ctx, tx, audit.Entry{
			Table:    string(lifecycle.VariantUpload),
			RecordID: id,
			Action:   models.ActionUpdate,
			Old:      audit.UploadSnapshot(before),
			New:      audit.UploadSnapshot(after),
			Actor:    actor,
			Reason:   "progress update",
		}); err != nil {
			return mapPgError("append audit record", err)
		}
		telemetry.AuditRecords.Inc()
		return nil
	})
	if err != nil {
		return models.Upload{}, err
	}
	return after, nil
}
