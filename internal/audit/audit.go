// Package audit captures bounded before/after snapshots for entity mutations
// and appends them to the audit_logs table. The append always runs on the
// caller's transaction so a mutation and its audit row commit or roll back
// together.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"cinemitr/internal/models"
)

// Execer is the slice of pgx.Tx (and pgxpool.Pool) the recorder needs.
// Passing the mutation's transaction enlists the append in it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Snapshot is a field-keyed projection of an entity's audited state.
type Snapshot map[string]any

// Entry collects the inputs for one audit row. Old is nil for INSERT,
// New is nil for DELETE.
type Entry struct {
	Table    string
	RecordID string
	Action   string
	Old      Snapshot
	New      Snapshot
	Actor    string
	Reason   string
}

func (e Entry) validate() error {
	if e.Table == "" {
		return errors.New("audit: table is required")
	}
	if e.RecordID == "" {
		return errors.New("audit: record id is required")
	}
	switch e.Action {
	case models.ActionInsert:
		if e.New == nil {
			return errors.New("audit: INSERT requires new values")
		}
	case models.ActionUpdate:
		if e.Old == nil || e.New == nil {
			return errors.New("audit: UPDATE requires old and new values")
		}
	case models.ActionDelete:
		if e.Old == nil {
			return errors.New("audit: DELETE requires old values")
		}
	default:
		return fmt.Errorf("audit: unknown action %q", e.Action)
	}
	return nil
}

// Record appends exactly one audit row for the entry. Any failure must abort
// the enclosing transaction; the recorder never writes outside of q.
func Record(ctx context.Context, q Execer, e Entry) (models.AuditRecord, error) {
	if q == nil {
		return models.AuditRecord{}, errors.New("audit: execer is required")
	}
	if err := e.validate(); err != nil {
		return models.AuditRecord{}, err
	}
	if e.Actor == "" {
		e.Actor = "system"
	}

	var oldJSON, newJSON []byte
	var err error
	if e.Old != nil {
		if oldJSON, err = json.Marshal(e.Old); err != nil {
			return models.AuditRecord{}, fmt.Errorf("audit: marshal old values: %w", err)
		}
	}
	if e.New != nil {
		if newJSON, err = json.Marshal(e.New); err != nil {
			return models.AuditRecord{}, fmt.Errorf("audit: marshal new values: %w", err)
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	var reason *string
	if e.Reason != "" {
		reason = &e.Reason
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (id, table_name, record_id, action, old_values, new_values, changed_by, change_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, e.Table, e.RecordID, e.Action, oldJSON, newJSON, e.Actor, reason, now)
	if err != nil {
		return models.AuditRecord{}, fmt.Errorf("audit: append: %w", err)
	}

	return models.AuditRecord{
		ID:           id,
		TableName:    e.Table,
		RecordID:     e.RecordID,
		Action:       e.Action,
		OldValues:    e.Old,
		NewValues:    e.New,
		ChangedBy:    e.Actor,
		ChangeReason: reason,
		CreatedAt:    now,
	}, nil
}
