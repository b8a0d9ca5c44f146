package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type store interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (Record, Origin, error)
	ResetWindows(ctx context.Context, userID uuid.UUID, now, dailyCutoff, monthlyCutoff time.Time) (Record, error)
	AddUsage(ctx context.Context, userID uuid.UUID, deltaUploads, deltaBytes int64) error
}

// Ledger admits or denies uploads against rolling daily and monthly limits.
//
// Check never consumes quota. Callers commit with Increment only once the object
// exists, and compensate with Decrement if a later step fails.
type Ledger struct {
	store   store
	limits  Limits
	nowFunc func() time.Time
}

// NewLedger constructs a Ledger enforcing limits.
func NewLedger(store store, limits Limits) *Ledger {
	return &Ledger{store: store, limits: limits, nowFunc: time.Now}
}

// Limits returns the limit table in force.
func (l *Ledger) Limits() Limits {
	return l.limits
}

// GetOrCreate returns the user's record, creating a zeroed one on first touch.
func (l *Ledger) GetOrCreate(ctx context.Context, userID uuid.UUID) (Lookup, error) {
	rec, origin, err := l.store.GetOrCreate(ctx, userID, l.nowFunc())
	if err != nil {
		return Lookup{}, err
	}
	return Lookup{Record: rec, Origin: origin}, nil
}

// Check reports whether userID may upload incomingBytes more. Stale windows are
// reset before evaluation.
func (l *Ledger) Check(ctx context.Context, userID uuid.UUID, incomingBytes int64) (Decision, error) {
	if incomingBytes < 0 {
		return Decision{}, ErrNegativeBytes
	}

	now := l.nowFunc()
	rec, _, err := l.store.GetOrCreate(ctx, userID, now)
	if err != nil {
		return Decision{}, err
	}

	if _, stale := resetExpired(rec, now, l.limits); stale {
		rec, err = l.store.ResetWindows(ctx, userID, now, now.Add(-l.limits.DailyWindow), now.Add(-l.limits.MonthlyWindow))
		if err != nil {
			return Decision{}, fmt.Errorf("reset quota windows: %w", err)
		}
	}

	return Evaluate(rec, incomingBytes, l.limits), nil
}

// Increment records one upload of bytes in both windows.
func (l *Ledger) Increment(ctx context.Context, userID uuid.UUID, bytes int64) error {
	if bytes < 0 {
		return ErrNegativeBytes
	}
	return l.store.AddUsage(ctx, userID, 1, bytes)
}

// Decrement reverses one Increment. Counters clamp at zero and a missing record
// is a no-op.
func (l *Ledger) Decrement(ctx context.Context, userID uuid.UUID, bytes int64) error {
	if bytes < 0 {
		return ErrNegativeBytes
	}
	err := l.store.AddUsage(ctx, userID, -1, -bytes)
	if errors.Is(err, ErrRecordMissing) {
		return nil
	}
	return err
}

// Evaluate applies the four limit checks in order and stops at the first failure.
func Evaluate(rec Record, incomingBytes int64, limits Limits) Decision {
	d := Decision{Allowed: true, Current: rec.Usage(), Limits: limits}

	switch {
	case rec.DailyUploads >= limits.MaxDailyUploads:
		d.Reason = ReasonDailyUploadLimit
	case rec.MonthlyUploads >= limits.MaxMonthlyUploads:
		d.Reason = ReasonMonthlyUploadLimit
	case rec.DailyBytesUsed+incomingBytes > limits.MaxDailyBytes:
		d.Reason = ReasonDailyBytesLimit
	case rec.MonthlyBytesUsed+incomingBytes > limits.MaxMonthlyBytes:
		d.Reason = ReasonMonthlyBytesLimit
	}
	if d.Reason != ReasonNone {
		d.Allowed = false
	}
	return d
}

// resetExpired returns rec with stale windows zeroed, and whether any was stale.
func resetExpired(rec Record, now time.Time, limits Limits) (Record, bool) {
	stale := false
	if now.Sub(rec.LastResetDaily) >= limits.DailyWindow {
		rec.DailyUploads, rec.DailyBytesUsed, rec.LastResetDaily = 0, 0, now
		stale = true
	}
	if now.Sub(rec.LastResetMonthly) >= limits.MonthlyWindow {
		rec.MonthlyUploads, rec.MonthlyBytesUsed, rec.LastResetMonthly = 0, 0, now
		stale = true
	}
	return rec, stale
}
