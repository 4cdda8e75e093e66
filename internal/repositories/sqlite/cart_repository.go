package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chrisdamba/foodcart/internal/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS carts (
    profile     TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
`

type CartRepository struct {
	db *sql.DB
}

// Open creates the database file if needed and applies the schema. WAL mode
// lets the tracker read while the cart writes.
func Open(path string) (*CartRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent saves
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &CartRepository{db: db}, nil
}

func (r *CartRepository) Load(ctx context.Context, profile string) (*models.CartState, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT state FROM carts WHERE profile = ?`, profile).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart state: %w", err)
	}

	var state models.CartState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
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
        INSERT INTO carts (profile, state, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(profile) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
    `
	if _, err := r.db.ExecContext(ctx, query, profile, string(data), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to save cart state: %w", err)
	}
	return nil
}

func (r *CartRepository) Close() error {
	return r.db.Close()
}
