package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cinemitr/internal/audit"
	"cinemitr/internal/lifecycle"
	"cinemitr/internal/models"
	"cinemitr/internal/telemetry"
)

// StatusChange reports a committed transition back to the caller.
type StatusChange struct {
	Table string             `json:"table"`
	ID    string             `json:"id"`
	From  models.Status      `json:"from"`
	To    models.Status      `json:"to"`
	Audit models.AuditRecord `json:"audit"`
}

// withTx runs fn inside one transaction. Any error from fn aborts the whole
// unit of work; the mutation and its audit row commit together or not at all.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(op+": begin tx", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(op+": commit", err)
	}
	return nil
}

// mapPgError folds driver failures into the lifecycle taxonomy: lock and
// serialization errors are Conflict (retryable), deadline expiry is Timeout,
// anything else is a PersistenceError.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, lifecycle.ErrTimeout)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock not available
			return fmt.Errorf("%s: %w", op, lifecycle.ErrConflict)
		}
	}
	return &lifecycle.PersistenceError{Op: op, Err: err}
}

// Row locks. Each reads the current row FOR UPDATE so two concurrent
// transitions on the same row serialize; the loser re-reads the winner's
// committed status and validates against that.

func lockMovie(ctx context.Context, tx pgx.Tx, id string) (models.Movie, error) {
	m, err := scanMovie(tx.QueryRow(ctx, `SELECT `+movieColumns+` FROM movies WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Movie{}, fmt.Errorf("movie %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.Movie{}, mapPgError("lock movie", err)
	}
	return m, nil
}

func lockContentItem(ctx context.Context, tx pgx.Tx, id string) (models.ContentItem, error) {
	c, err := scanContentItem(tx.QueryRow(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, fmt.Errorf("content item %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.ContentItem{}, mapPgError("lock content item", err)
	}
	return c, nil
}

func lockUpload(ctx context.Context, tx pgx.Tx, id string) (models.Upload, error) {
	u, err := scanUpload(tx.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Upload{}, fmt.Errorf("upload %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.Upload{}, mapPgError("lock upload", err)
	}
	return u, nil
}

func lockExportJob(ctx context.Context, tx pgx.Tx, id string) (models.ExportJob, error) {
	j, err := scanExportJob(tx.QueryRow(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ExportJob{}, fmt.Errorf("export job %s: %w", id, lifecycle.ErrNotFound)
	}
	if err != nil {
		return models.ExportJob{}, mapPgError("lock export job", err)
	}
	return j, nil
}

// applyStatusWrite issues the variant's status UPDATE including the
// timestamps coupled to specific transitions (processed/uploaded for
// content, started/completed for uploads and export jobs).
func applyStatusWrite(ctx context.Context, tx pgx.Tx, v lifecycle.Variant, id string, requested models.Status) error {
	var sql string
	switch v {
	case lifecycle.VariantMovie:
		sql = `UPDATE movies SET status = $2, updated_at = NOW() WHERE id = $1`
	case lifecycle.VariantContentItem:
		sql = `UPDATE content_items SET status = $2, updated_at = NOW(),
			processed_at = CASE WHEN $2 = 'Processing' THEN NOW() ELSE processed_at END,
			uploaded_at = CASE WHEN $2 = 'Uploaded' THEN NOW() ELSE uploaded_at END
			WHERE id = $1`
	case lifecycle.VariantUpload:
		sql = `UPDATE uploads SET status = $2, updated_at = NOW(),
			started_at = CASE WHEN $2 = 'uploading' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
			WHERE id = $1`
	case lifecycle.VariantExportJob:
		sql = `UPDATE export_jobs SET status = $2, updated_at = NOW(),
			started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
			WHERE id = $1`
	default:
		return fmt.Errorf("unknown entity variant %q: %w", v, lifecycle.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, sql, id, requested); err != nil {
		return mapPgError("apply status write", err)
	}
	return nil
}

// updateStatusOnTx performs validate → mutate → audit for one row on an
// already-open transaction and returns the resulting change.
func updateStatusOnTx(ctx context.Context, tx pgx.Tx, v lifecycle.Variant, id string, requested models.Status, actor, reason string) (StatusChange, error) {
	var (
		current models.Status
		oldSnap audit.Snapshot
		newSnap audit.Snapshot
	)

	switch v {
	case lifecycle.VariantMovie:
		before, err := lockMovie(ctx, tx, id)
		if err != nil {
			return StatusChange{}, err
		}
		current = before.Status
		after := before
		after.Status = requested
		oldSnap, newSnap = audit.MovieSnapshot(before), audit.MovieSnapshot(after)
	case lifecycle.VariantContentItem:
		before, err := lockContentItem(ctx, tx, id)
		if err != nil {
			return StatusChange{}, err
		}
		current = before.Status
		after := before
		after.Status = requested
		oldSnap, newSnap = audit.ContentItemSnapshot(before), audit.ContentItemSnapshot(after)
	case lifecycle.VariantUpload:
		before, err := lockUpload(ctx, tx, id)
		if err != nil {
			return StatusChange{}, err
		}
		current = before.Status
		after := before
		after.Status = requested
		oldSnap, newSnap = audit.UploadSnapshot(before), audit.UploadSnapshot(after)
	case lifecycle.VariantExportJob:
		before, err := lockExportJob(ctx, tx, id)
		if err != nil {
			return StatusChange{}, err
		}
		current = before.Status
		after := before
		after.Status = requested
		oldSnap, newSnap = audit.ExportJobSnapshot(before), audit.ExportJobSnapshot(after)
	default:
		return StatusChange{}, fmt.Errorf("unknown entity variant %q: %w", v, lifecycle.ErrNotFound)
	}

	if err := lifecycle.ValidateTransition(v, current, requested); err != nil {
		return StatusChange{}, err
	}
	if err := applyStatusWrite(ctx, tx, v, id, requested); err != nil {
		return StatusChange{}, err
	}

	rec, err := audit.Record(ctx, tx, audit.Entry{
		Table:    string(v),
		RecordID: id,
		Action:   models.ActionUpdate,
		Old:      oldSnap,
		New:      newSnap,
		Actor:    actor,
		Reason:   reason,
	})
	if err != nil {
		return StatusChange{}, mapPgError("append audit record", err)
	}

	return StatusChange{Table: string(v), ID: id, From: current, To: requested, Audit: rec}, nil
}

// UpdateStatus is the single entry point for any status write: one row, one
// transaction, rejection leaves no side effects.
func (s *Store) UpdateStatus(ctx context.Context, v lifecycle.Variant, id string, requested models.Status, actor, reason string) (StatusChange, error) {
	var change StatusChange
	err := s.withTx(ctx, "update status", func(tx pgx.Tx) error {
		var err error
		change, err = updateStatusOnTx(ctx, tx, v, id, requested, actor, reason)
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

// BulkMode selects the commit granularity of a bulk status update.
type BulkMode string

const (
	// BulkAtomic commits every row's mutation+audit pair or none.
	BulkAtomic BulkMode = "atomic"
	// BulkPerRow commits each row independently and reports per-row outcomes.
	BulkPerRow BulkMode = "per_row"
)

// RowOutcome is one row's result in a per-row bulk update.
type RowOutcome struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// BulkResult aggregates a bulk status update.
type BulkResult struct {
	Mode     BulkMode     `json:"mode"`
	Updated  int          `json:"updated"`
	Failed   int          `json:"failed"`
	Outcomes []RowOutcome `json:"outcomes"`
}

// BulkUpdateStatus applies one requested status across many rows. In atomic
// mode the whole batch is a single transaction and the first rejection rolls
// everything back. Per-row mode is an explicit caller choice: each row is its
// own sub-transaction and failures leave other rows committed.
func (s *Store) BulkUpdateStatus(ctx context.Context, v lifecycle.Variant, ids []string, requested models.Status, actor, reason string, mode BulkMode) (BulkResult, error) {
	if mode == "" {
		mode = BulkAtomic
	}
	res := BulkResult{Mode: mode}

	if mode == BulkPerRow {
		for _, id := range ids {
			if _, err := s.UpdateStatus(ctx, v, id, requested, actor, reason); err != nil {
				res.Failed++
				res.Outcomes = append(res.Outcomes, RowOutcome{ID: id, Error: err.Error()})
				continue
			}
			res.Updated++
			res.Outcomes = append(res.Outcomes, RowOutcome{ID: id, OK: true})
		}
		return res, nil
	}

	err := s.withTx(ctx, "bulk update status", func(tx pgx.Tx) error {
		for _, id := range ids {
			if _, err := updateStatusOnTx(ctx, tx, v, id, requested, actor, reason); err != nil {
				return fmt.Errorf("row %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		telemetry.ObserveRejection(err)
		return BulkResult{Mode: mode, Failed: len(ids)}, err
	}

	res.Updated = len(ids)
	for _, id := range ids {
		res.Outcomes = append(res.Outcomes, RowOutcome{ID: id, OK: true})
	}
	telemetry.TransitionsApplied.Add(float64(len(ids)))
	telemetry.AuditRecords.Add(float64(len(ids)))
	return res, nil
}

// auditContentUpdate appends an UPDATE audit row for a non-status content
// mutation already applied on tx.
func (s *Store) auditContentUpdate(ctx context.Context, tx pgx.Tx, before, after models.ContentItem, actor, reason string) error {
	_, err := audit.Record(ctx, tx, audit.Entry{
		Table:    string(lifecycle.VariantContentItem),
		RecordID: before.ID,
		Action:   models.ActionUpdate,
		Old:      audit.ContentItemSnapshot(before),
		New:      audit.ContentItemSnapshot(after),
		Actor:    actor,
		Reason:   reason,
	})
	if err != nil {
		return mapPgError("append audit record", err)
	}
	telemetry.AuditRecords.Inc()
	return nil
}
