package repositories

import (
	"context"

	"github.com/chrisdamba/foodcart/internal/models"
)

// CartRepository persists the whole cart state for a profile. Save always
// overwrites the previous value. Load returns a nil state and a nil error
// when nothing was saved yet.
type CartRepository interface {
	Load(ctx context.Context, profile string) (*models.CartState, error)
	Save(ctx context.Context, profile string, state *models.CartState) error
	Close() error
}
