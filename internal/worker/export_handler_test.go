package worker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cinemitr/internal/models"
)

func sampleItems() []models.ContentItem {
	size := int64(1024)
	return []models.ContentItem{
		{
			ID:            "c1",
			Name:          "trailer one",
			ContentType:   "video",
			Status:        models.StatusUploaded,
			Priority:      models.PriorityHigh,
			FileSizeBytes: &size,
			CreatedAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:          "c2",
			Name:        "poster, with comma",
			ContentType: "image",
			Status:      models.StatusNew,
			Priority:    models.PriorityLow,
			CreatedAt:   time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestSerializeCSV(t *testing.T) {
	body, contentType, ext, err := serialize("csv", sampleItems())
	if err != nil {
		t.Fatalf("serialize csv: %v", err)
	}
	if contentType != "text/csv" || ext != "csv" {
		t.Fatalf("unexpected content type %q ext %q", contentType, ext)
	}

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][5] != "1024" {
		t.Fatalf("file size column = %q, want 1024", rows[1][5])
	}
	if rows[2][1] != "poster, with comma" {
		t.Fatalf("name with comma not preserved: %q", rows[2][1])
	}
	if rows[2][5] != "" {
		t.Fatalf("missing file size should serialize empty, got %q", rows[2][5])
	}
}

func TestSerializeJSON(t *testing.T) {
	body, contentType, ext, err := serialize("json", sampleItems())
	if err != nil {
		t.Fatalf("serialize json: %v", err)
	}
	if contentType != "application/json" || ext != "json" {
		t.Fatalf("unexpected content type %q ext %q", contentType, ext)
	}

	var out []models.ContentItem
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if out[0].Status != models.StatusUploaded {
		t.Fatalf("status = %q, want %q", out[0].Status, models.StatusUploaded)
	}
}

func TestSerializeRejectsUnknownFormat(t *testing.T) {
	if _, _, _, err := serialize("xml", nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLocalUploaderWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	up := &localUploader{baseDir: dir}

	path, err := up.Upload(context.Background(), "nested/export.csv", []byte("id,name\n"), "text/csv")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if path != filepath.Join(dir, "nested", "export.csv") {
		t.Fatalf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(data) != "id,name\n" {
		t.Fatalf("artifact content = %q", data)
	}
}
