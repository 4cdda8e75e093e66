package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chrisdamba/foodcart/internal/models"
)

const schema = `
    CREATE TABLE IF NOT EXISTS carts (
        profile     TEXT PRIMARY KEY,
        state       JSONB NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    )
`

type CartRepository struct {
	pool *pgxpool.Pool
}

func NewCartRepository(ctx context.Context, dsn string) (*CartRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &CartRepository{pool: pool}, nil
}

func (r *CartRepository) Load(ctx context.Context, profile string) (*models.CartState, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM carts WHERE profile = $1`, profile).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart state: %w", err)
	}

	var state models.CartState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode cart state: %w", err)
	}
	return &state, nil
}

func (r *CartRepository) Save(ctx context.Context, profile string, state *models.CartState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cart state: %w", err)
	}

	query := `
        INSERT INTO carts (profile, state, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (profile) DO UPDATE
        SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
    `
	if _, err := r.pool.Exec(ctx, query, profile, data); err != nil {
		return fmt.Errorf("failed to save cart state: %w", err)
	}
	return nil
}

func (r *CartRepository) Close() error {
	r.pool.Close()
	return nil
}
