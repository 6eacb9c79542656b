package audit

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"cinemitr/internal/models"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.CommandTag{}, r.err
}

func TestRecordInsertRequiresNewValues(t *testing.T) {
	ex := &recordingExecer{}
	_, err := Record(context.Background(), ex, Entry{
		Table:    "movies",
		RecordID: "m1",
		Action:   models.ActionInsert,
	})
	if err == nil {
		t.Fatalf("INSERT without new values should fail")
	}
	if ex.sql != "" {
		t.Fatalf("no row should be written on validation failure")
	}
}

func TestRecordDeleteRequiresOldValues(t *testing.T) {
	_, err := Record(context.Background(), &recordingExecer{}, Entry{
		Table:    "movies",
		RecordID: "m1",
		Action:   models.ActionDelete,
		New:      Snapshot{"title": "x"},
	})
	if err == nil {
		t.Fatalf("DELETE without old values should fail")
	}
}

func TestRecordProducesOneRow(t *testing.T) {
	ex := &recordingExecer{}
	old := Snapshot{"name": "clip", "content_type": "Reel", "status": "New", "priority": "Medium"}
	next := Snapshot{"name": "clip", "content_type": "Reel", "status": "Processing", "priority": "Medium"}
	rec, err := Record(context.Background(), ex, Entry{
		Table:    "content_items",
		RecordID: "c1",
		Action:   models.ActionUpdate,
		Old:      old,
		New:      next,
		Actor:    "editor",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if ex.sql == "" {
		t.Fatalf("expected an insert to be issued")
	}
	if rec.TableName != "content_items" || rec.RecordID != "c1" || rec.Action != models.ActionUpdate {
		t.Fatalf("record fields wrong: %+v", rec)
	}
	if rec.ChangedBy != "editor" {
		t.Fatalf("actor not carried: %q", rec.ChangedBy)
	}
	if rec.OldValues["status"] != "New" || rec.NewValues["status"] != "Processing" {
		t.Fatalf("snapshots not carried through")
	}
}

func TestRecordDefaultsActor(t *testing.T) {
	rec, err := Record(context.Background(), &recordingExecer{}, Entry{
		Table:    "uploads",
		RecordID: "u1",
		Action:   models.ActionInsert,
		New:      Snapshot{"file_name": "a.mp4", "status": "pending"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ChangedBy != "system" {
		t.Fatalf("expected default actor system, got %q", rec.ChangedBy)
	}
}

func TestSnapshotProjectionsAreBounded(t *testing.T) {
	desc := "a very long description"
	path := "/mnt/media/raw/file.mkv"
	c := models.ContentItem{
		ID: "c1", Name: "clip", ContentType: "Trailer", Status: models.StatusNew,
		Priority: models.PriorityHigh, Description: &desc, FilePath: &path,
	}
	s := ContentItemSnapshot(c)
	if len(s) != 4 {
		t.Fatalf("content snapshot should hold exactly 4 fields, got %d", len(s))
	}
	if _, ok := s["file_path"]; ok {
		t.Fatalf("file_path must not leak into the audit snapshot")
	}
	if s["status"] != "New" || s["priority"] != models.PriorityHigh {
		t.Fatalf("unexpected snapshot: %v", s)
	}
}

func TestSelfTransitionSnapshotsEqual(t *testing.T) {
	u := models.Upload{ID: "u1", FileName: "a.mp4", Status: models.UploadUploading, Progress: 42.5, BytesUploaded: 1024}
	if !Equal(UploadSnapshot(u), UploadSnapshot(u)) {
		t.Fatalf("identical entity states must project to equal snapshots")
	}
	moved := u
	moved.BytesUploaded = 2048
	if Equal(UploadSnapshot(u), UploadSnapshot(moved)) {
		t.Fatalf("differing states must not project equal")
	}
}
