package relay

import (
	"io"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/fanout"
	"github.com/google/uuid"
)

// UploadRequest is one multipart upload after transport decoding.
type UploadRequest struct {
	UserID       uuid.UUID
	Title        string
	Description  string
	OriginalName string
	ContentType  string
	Size         int64
	Body         io.Reader
	// Platforms optionally restricts delivery to these account types.
	Platforms []string
}

// UploadResult is returned when at least one account accepted the schedule.
type UploadResult struct {
	Filename string          `json:"filename"`
	MediaURL string          `json:"mediaUrl"`
	Message  string          `json:"message"`
	Results  []fanout.Result `json:"results"`
}

// Options are the upload validation rules.
type Options struct {
	MaxFileBytes         int64
	AllowedMediaTypes    []string
	MaxTitleLength       int
	MaxDescriptionLength int
}

// OptionsFromConfig copies the configured upload rules.
func OptionsFromConfig(cfg config.UploadConfig) Options {
	return Options{
		MaxFileBytes:         cfg.MaxFileBytes,
		AllowedMediaTypes:    cfg.AllowedMediaTypes,
		MaxTitleLength:       cfg.MaxTitleLength,
		MaxDescriptionLength: cfg.MaxDescriptionLength,
	}
}

// upload outcomes reported to metrics
const (
	outcomeSuccess        = "success"
	outcomeInvalid        = "invalid"
	outcomeQuotaExceeded  = "quota_exceeded"
	outcomeStorageError   = "storage_error"
	outcomeAccountingErr  = "accounting_error"
	outcomeNoTargets      = "target_resolution_error"
	outcomeDeliveryFailed = "delivery_failed"
	outcomeInternal       = "internal_error"
)
