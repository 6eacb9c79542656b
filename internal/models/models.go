package models

import (
	"encoding/json"
	"time"
)

// Status is a lifecycle state persisted as a string column. Each entity
// variant draws from its own closed set; membership and legal transitions
// are enforced by the lifecycle package.
type Status string

// Movie and ContentItem statuses.
const (
	StatusNew        Status = "New"
	StatusReady      Status = "Ready"
	StatusInProgress Status = "In Progress"
	StatusProcessing Status = "Processing"
	StatusUploaded   Status = "Uploaded"
	StatusFailed     Status = "Failed"
)

// Upload statuses.
const (
	UploadPending    Status = "pending"
	UploadUploading  Status = "uploading"
	UploadProcessing Status = "processing"
	UploadCompleted  Status = "completed"
	UploadFailed     Status = "failed"
)

// ExportJob statuses.
const (
	ExportPending    Status = "pending"
	ExportProcessing Status = "processing"
	ExportCompleted  Status = "completed"
	ExportFailed     Status = "failed"
)

// Priority levels for content items.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// Audit actions.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// Movie is a catalog title content items attach to.
type Movie struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Genre       string     `json:"genre"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	DurationMin *int       `json:"duration_minutes,omitempty"`
	Description *string    `json:"description,omitempty"`
	Director    *string    `json:"director,omitempty"`
	Rating      *string    `json:"rating,omitempty"`
	Language    *string    `json:"language,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ContentItem is a single piece of media tracked through the upload pipeline.
type ContentItem struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	ContentType   string     `json:"content_type"`
	Status        Status     `json:"status"`
	Priority      string     `json:"priority"`
	Description   *string    `json:"description,omitempty"`
	FilePath      *string    `json:"file_path,omitempty"`
	FileSizeBytes *int64     `json:"file_size_bytes,omitempty"`
	DurationSec   *int       `json:"duration_seconds,omitempty"`
	ThumbnailURL  *string    `json:"thumbnail_url,omitempty"`
	VideoURL      *string    `json:"video_url,omitempty"`
	Resolution    *string    `json:"resolution,omitempty"`
	Quality       *string    `json:"quality,omitempty"`
	MovieID       *string    `json:"movie_id,omitempty"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Upload tracks byte progress of one file transfer.
type Upload struct {
	ID            string     `json:"id"`
	FileName      string     `json:"file_name"`
	OriginalName  string     `json:"original_filename"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	MimeType      string     `json:"mime_type"`
	Status        Status     `json:"status"`
	Progress      float64    `json:"progress_percentage"`
	BytesUploaded int64      `json:"bytes_uploaded"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	Checksum      *string    `json:"checksum,omitempty"`
	ContentItemID *string    `json:"content_item_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ExportJob describes an asynchronous export of content rows to a file artifact.
type ExportJob struct {
	ID            string          `json:"id"`
	Format        string          `json:"format"` // csv or json
	Status        Status          `json:"status"`
	Filters       json.RawMessage `json:"filters,omitempty"`
	FilePath      *string         `json:"file_path,omitempty"`
	FileSizeBytes *int64          `json:"file_size_bytes,omitempty"`
	RecordCount   *int            `json:"record_count,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AuditRecord is one append-only row pairing a mutation with its
// before/after snapshots. OldValues is nil for INSERT, NewValues for DELETE.
type AuditRecord struct {
	ID           string         `json:"id"`
	TableName    string         `json:"table_name"`
	RecordID     string         `json:"record_id"`
	Action       string         `json:"action"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	ChangedBy    string         `json:"changed_by"`
	ChangeReason *string        `json:"change_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ActivityRecord is one row of the recent-activity feed derived from the audit log.
type ActivityRecord struct {
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Action    string    `json:"action"`
	Status    *string   `json:"status,omitempty"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}
