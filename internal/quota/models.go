package quota

import (
	"time"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/google/uuid"
)

// Record is the per-user rolling usage row.
type Record struct {
	UserID           uuid.UUID `json:"user_id"`
	DailyUploads     int64     `json:"daily_uploads"`
	MonthlyUploads   int64     `json:"monthly_uploads"`
	DailyBytesUsed   int64     `json:"daily_bytes_used"`
	MonthlyBytesUsed int64     `json:"monthly_bytes_used"`
	LastResetDaily   time.Time `json:"last_reset_daily"`
	LastResetMonthly time.Time `json:"last_reset_monthly"`
}

// Usage is the snapshot reported back to callers.
type Usage struct {
	DailyUploads   int64 `json:"dailyUploads"`
	MonthlyUploads int64 `json:"monthlyUploads"`
	DailyBytes     int64 `json:"dailyBytes"`
	MonthlyBytes   int64 `json:"monthlyBytes"`
}

// Usage returns the counters of r.
func (r Record) Usage() Usage {
	return Usage{
		DailyUploads:   r.DailyUploads,
		MonthlyUploads: r.MonthlyUploads,
		DailyBytes:     r.DailyBytesUsed,
		MonthlyBytes:   r.MonthlyBytesUsed,
	}
}

// Limits is the immutable limit table a Ledger enforces.
type Limits struct {
	MaxDailyUploads   int64         `json:"maxDailyUploads"`
	MaxMonthlyUploads int64         `json:"maxMonthlyUploads"`
	MaxDailyBytes     int64         `json:"maxDailyBytes"`
	MaxMonthlyBytes   int64         `json:"maxMonthlyBytes"`
	DailyWindow       time.Duration `json:"-"`
	MonthlyWindow     time.Duration `json:"-"`
}

// LimitsFromConfig copies the configured limits.
func LimitsFromConfig(cfg config.QuotaConfig) Limits {
	return Limits{
		MaxDailyUploads:   cfg.MaxDailyUploads,
		MaxMonthlyUploads: cfg.MaxMonthlyUploads,
		MaxDailyBytes:     cfg.MaxDailyBytes,
		MaxMonthlyBytes:   cfg.MaxMonthlyBytes,
		DailyWindow:       cfg.DailyWindow,
		MonthlyWindow:     cfg.MonthlyWindow,
	}
}

// Reason identifies which limit denied an upload.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonDailyUploadLimit   Reason = "daily_upload_limit"
	ReasonMonthlyUploadLimit Reason = "monthly_upload_limit"
	ReasonDailyBytesLimit    Reason = "daily_bytes_limit"
	ReasonMonthlyBytesLimit  Reason = "monthly_bytes_limit"
)

// Message is the user-facing text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonDailyUploadLimit:
		return "Daily upload limit reached"
	case ReasonMonthlyUploadLimit:
		return "Monthly upload limit reached"
	case ReasonDailyBytesLimit:
		return "Daily storage limit would be exceeded"
	case ReasonMonthlyBytesLimit:
		return "Monthly storage limit would be exceeded"
	default:
		return ""
	}
}

// Decision is the outcome of Ledger.Check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Current Usage  `json:"current"`
	Limits  Limits `json:"limits"`
}

// Origin tags whether GetOrCreate found or inserted the record.
type Origin int

const (
	Existing Origin = iota
	Created
)

func (o Origin) String() string {
	if o == Created {
		return "created"
	}
	return "existing"
}

// Lookup is the tagged result of GetOrCreate.
type Lookup struct {
	Record Record
	Origin Origin
}
