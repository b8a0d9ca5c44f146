package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

// Repository stores sealed aggregator keys.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Put upserts the sealed key for userID.
func (r *Repository) Put(ctx context.Context, userID uuid.UUID, sealed []byte) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
INSERT INTO aggregator_credentials (user_id, sealed_key, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id)
DO UPDATE SET sealed_key = EXCLUDED.sealed_key, updated_at = NOW();`

	if _, err := r.pool.Exec(ctx, query, userID, sealed); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Get returns the sealed key for userID.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var sealed []byte
	err := r.pool.QueryRow(ctx, `SELECT sealed_key FROM aggregator_credentials WHERE user_id = $1;`, userID).Scan(&sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return sealed, nil
}
