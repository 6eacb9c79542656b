package audit

import "cinemitr/internal/models"

// Per-table projections. Each picks the handful of fields worth auditing;
// large text and blob-ish columns (file paths, thumbnails, descriptions)
// stay out of the log.

func MovieSnapshot(m models.Movie) Snapshot {
	s := Snapshot{
		"title":  m.Title,
		"genre":  m.Genre,
		"status": string(m.Status),
	}
	if m.Rating != nil {
		s["rating"] = *m.Rating
	}
	return s
}

func ContentItemSnapshot(c models.ContentItem) Snapshot {
	return Snapshot{
		"name":         c.Name,
		"content_type": c.ContentType,
		"status":       string(c.Status),
		"priority":     c.Priority,
	}
}

func UploadSnapshot(u models.Upload) Snapshot {
	return Snapshot{
		"file_name":           u.FileName,
		"status":              string(u.Status),
		"progress_percentage": u.Progress,
		"bytes_uploaded":      u.BytesUploaded,
	}
}

func ExportJobSnapshot(j models.ExportJob) Snapshot {
	s := Snapshot{
		"format": j.Format,
		"status": string(j.Status),
	}
	if j.RecordCount != nil {
		s["record_count"] = *j.RecordCount
	}
	return s
}

// Equal reports whether two snapshots carry identical keys and values.
// Self-transitions produce audit rows whose old and new snapshots are Equal.
func Equal(a, b Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}
