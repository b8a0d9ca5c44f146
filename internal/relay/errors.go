package relay

import (
	"errors"
	"fmt"

	"github.com/abduss/reelrelay/internal/fanout"
	"github.com/abduss/reelrelay/internal/quota"
)

// ErrUploadNotFound is returned when a caller addresses an upload it does not own.
var ErrUploadNotFound = errors.New("upload not found")

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// QuotaExceededError carries the ledger snapshot that denied the upload.
type QuotaExceededError struct {
	Decision quota.Decision
}

func (e *QuotaExceededError) Error() string {
	return e.Decision.Reason.Message()
}

// StorageWriteError wraps a failed object write. Nothing else was mutated.
type StorageWriteError struct {
	Err error
}

func (e *StorageWriteError) Error() string { return "store object: " + e.Err.Error() }
func (e *StorageWriteError) Unwrap() error { return e.Err }

// AccountingError is a failed quota increment or record insert after the object
// was written. Compensated is false when the rollback itself failed.
type AccountingError struct {
	Stage       string
	Err         error
	Compensated bool
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("commit upload (%s): %v", e.Stage, e.Err)
}

func (e *AccountingError) Unwrap() error { return e.Err }

// ResolutionFailure classifies a TargetResolutionError.
type ResolutionFailure int

const (
	// NoAccounts means the account list, after filtering, was empty.
	NoAccounts ResolutionFailure = iota
	// Unauthorized means the aggregator rejected the stored credentials.
	Unauthorized
	// Upstream is any other aggregator failure.
	Upstream
)

// TargetResolutionError means no delivery was attempted and the upload was rolled back.
type TargetResolutionError struct {
	Failure ResolutionFailure
	Err     error
}

func (e *TargetResolutionError) Error() string {
	switch e.Failure {
	case NoAccounts:
		return "no connected accounts"
	case Unauthorized:
		return "invalid aggregator credentials"
	default:
		if e.Err != nil {
			return "resolve targets: " + e.Err.Error()
		}
		return "resolve targets failed"
	}
}

func (e *TargetResolutionError) Unwrap() error { return e.Err }

// DeliveryFailedError means every target failed. The object and quota are kept.
type DeliveryFailedError struct {
	Filename string
	Results  []fanout.Result
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("delivery failed for all %d accounts", len(e.Results))
}
