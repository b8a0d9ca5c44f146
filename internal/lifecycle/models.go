package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

// Record tracks one accepted upload from object write until its deletion.
type Record struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	Filename            string     `json:"filename"`
	FileSizeBytes       int64      `json:"file_size_bytes"`
	MimeType            string     `json:"mime_type"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	UploadedAt          time.Time  `json:"uploaded_at"`
	ScheduledDeletionAt time.Time  `json:"scheduled_deletion_at"`
	IsDeleted           bool       `json:"is_deleted"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// NewUpload is the caller-supplied part of a Record.
type NewUpload struct {
	UserID        uuid.UUID
	Filename      string
	FileSizeBytes int64
	MimeType      string
	Title         string
	Description   string
}

// SweepResult aggregates one reaper pass.
type SweepResult struct {
	Deleted int           `json:"deleted"`
	Failed  int           `json:"failed"`
	Errors  []RecordError `json:"errors"`
}

// RecordError describes one record the sweep could not reap.
type RecordError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}
