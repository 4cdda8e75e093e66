package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/chrisdamba/foodcart/internal/models"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// CartRepository keeps one JSON document per profile under dir.
type CartRepository struct {
	dir string
	mu  sync.Mutex
}

func NewCartRepository(dir string) (*CartRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &CartRepository{dir: dir}, nil
}

func (r *CartRepository) path(profile string) string {
	return filepath.Join(r.dir, unsafeChars.ReplaceAllString(profile, "_")+".json")
}

func (r *CartRepository) Load(_ context.Context, profile string) (*models.CartState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path(profile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cart state: %w", err)
	}

	var state models.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode cart state: %w", err)
	}
	return &state, nil
}

// Save writes to a temp file first and renames it, so a crash never leaves
// a half-written document behind.
func (r *CartRepository) Save(_ context.Context, profile string, state *models.CartState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cart state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(r.dir, "cart-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cart state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), r.path(profile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cart state: %w", err)
	}
	return nil
}

func (r *CartRepository) Close() error { return nil }
