package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const uploadColumns = `id, user_id, filename, file_size_bytes, mime_type, title, description, uploaded_at, scheduled_deletion_at, is_deleted, deleted_at`

// Repository persists lifecycle records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a lifecycle repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts rec.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO uploads (id, user_id, filename, file_size_bytes, mime_type, title, description, uploaded_at, scheduled_deletion_at, is_deleted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
RETURNING ` + uploadColumns + `;`

	stored, err := scanUpload(r.pool.QueryRow(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Filename,
		rec.FileSizeBytes,
		rec.MimeType,
		rec.Title,
		rec.Description,
		rec.UploadedAt,
		rec.ScheduledDeletionAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrDuplicateFilename
		}
		return Record{}, fmt.Errorf("create upload record: %w", err)
	}
	return stored, nil
}

// GetByFilename fetches the record for a storage key.
func (r *Repository) GetByFilename(ctx context.Context, filename string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rec, err := scanUpload(r.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE filename = $1;`, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrUploadNotFound
		}
		return Record{}, fmt.Errorf("get upload record: %w", err)
	}
	return rec, nil
}

// MarkDeleted flips is_deleted for filename. It reports false when the record is
// absent or was already deleted.
func (r *Repository) MarkDeleted(ctx context.Context, filename string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
UPDATE uploads
SET is_deleted = TRUE, deleted_at = $2
WHERE filename = $1 AND is_deleted = FALSE;`, filename, at)
	if err != nil {
		return false, fmt.Errorf("mark upload deleted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cursor is a keyset position in the sweep ordering.
type Cursor struct {
	ScheduledDeletionAt time.Time
	ID                  uuid.UUID
}

// ListExpired returns up to limit live records whose deletion time is at or before
// now and that sort after the cursor, ordered by deadline then id.
func (r *Repository) ListExpired(ctx context.Context, now time.Time, after Cursor, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + uploadColumns + `
FROM uploads
WHERE is_deleted = FALSE
  AND scheduled_deletion_at <= $1
  AND (scheduled_deletion_at, id) > ($2, $3)
ORDER BY scheduled_deletion_at, id
LIMIT $4;`

	return r.list(ctx, query, now, after.ScheduledDeletionAt, after.ID, limit)
}

// ListActive returns the user's live records, newest first.
func (r *Repository) ListActive(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT ` + uploadColumns + `
FROM uploads
WHERE user_id = $1 AND is_deleted = FALSE
ORDER BY uploaded_at DESC;`

	return r.list(ctx, query, userID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return records, nil
}

func scanUpload(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Filename,
		&rec.FileSizeBytes,
		&rec.MimeType,
		&rec.Title,
		&rec.Description,
		&rec.UploadedAt,
		&rec.ScheduledDeletionAt,
		&rec.IsDeleted,
		&rec.DeletedAt,
	)
	return rec, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
