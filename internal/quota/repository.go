package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const recordColumns = `user_id, daily_uploads, monthly_uploads, daily_bytes_used, monthly_bytes_used, last_reset_daily, last_reset_monthly`

// Repository persists ledger rows in PostgreSQL. Every mutation is a single
// statement so concurrent uploads by one user never lose an update.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a quota repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the user's row, inserting a zeroed one stamped with now if absent.
func (r *Repository) GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (Record, Origin, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	insert := `
INSERT INTO upload_quotas (user_id, last_reset_daily, last_reset_monthly)
VALUES ($1, $2, $2)
ON CONFLICT (user_id) DO NOTHING
RETURNING ` + recordColumns + `;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, insert, userID, now))
	if err == nil {
		return rec, Created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, Existing, fmt.Errorf("create quota record: %w", err)
	}

	rec, err = scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM upload_quotas WHERE user_id = $1;`, userID))
	if err != nil {
		return Record{}, Existing, fmt.Errorf("get quota record: %w", err)
	}
	return rec, Existing, nil
}

// ResetWindows zeroes each window whose last reset is at or before its cutoff.
// The daily and monthly windows are evaluated independently.
func (r *Repository) ResetWindows(ctx context.Context, userID uuid.UUID, now, dailyCutoff, monthlyCutoff time.Time) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE upload_quotas SET
    daily_uploads      = CASE WHEN last_reset_daily   <= $3 THEN 0  ELSE daily_uploads      END,
    daily_bytes_used   = CASE WHEN last_reset_daily   <= $3 THEN 0  ELSE daily_bytes_used   END,
    last_reset_daily   = CASE WHEN last_reset_daily   <= $3 THEN $2 ELSE last_reset_daily   END,
    monthly_uploads    = CASE WHEN last_reset_monthly <= $4 THEN 0  ELSE monthly_uploads    END,
    monthly_bytes_used = CASE WHEN last_reset_monthly <= $4 THEN 0  ELSE monthly_bytes_used END,
    last_reset_monthly = CASE WHEN last_reset_monthly <= $4 THEN $2 ELSE last_reset_monthly END,
    updated_at         = NOW()
WHERE user_id = $1
RETURNING ` + recordColumns + `;`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID, now, dailyCutoff, monthlyCutoff))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordMissing
		}
		return Record{}, fmt.Errorf("reset quota windows: %w", err)
	}
	return rec, nil
}

// AddUsage applies signed deltas to both windows, clamping every counter at zero.
func (r *Repository) AddUsage(ctx context.Context, userID uuid.UUID, deltaUploads, deltaBytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE upload_quotas SET
    daily_uploads      = GREATEST(daily_uploads + $2, 0),
    monthly_uploads    = GREATEST(monthly_uploads + $2, 0),
    daily_bytes_used   = GREATEST(daily_bytes_used + $3, 0),
    monthly_bytes_used = GREATEST(monthly_bytes_used + $3, 0),
    updated_at         = NOW()
WHERE user_id = $1;`

	tag, err := r.pool.Exec(ctx, query, userID, deltaUploads, deltaBytes)
	if err != nil {
		return fmt.Errorf("update quota usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordMissing
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.UserID,
		&rec.DailyUploads,
		&rec.MonthlyUploads,
		&rec.DailyBytesUsed,
		&rec.MonthlyBytesUsed,
		&rec.LastResetDaily,
		&rec.LastResetMonthly,
	)
	return rec, err
}
