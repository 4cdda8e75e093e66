package repositories

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/chrisdamba/foodcart/internal/models"
	"github.com/chrisdamba/foodcart/internal/repositories/file"
	"github.com/chrisdamba/foodcart/internal/repositories/postgres"
	"github.com/chrisdamba/foodcart/internal/repositories/redis"
	"github.com/chrisdamba/foodcart/internal/repositories/sqlite"
)

// Open returns the repository selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg *models.Config) (CartRepository, error) {
	switch cfg.StorageDriver {
	case "", "file":
		return file.NewCartRepository(filepath.Join(cfg.StoragePath, "carts"))
	case "sqlite":
		return sqlite.Open(filepath.Join(cfg.StoragePath, "foodcart.db"))
	case "redis":
		return redis.NewCartRepository(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "postgres":
		return postgres.NewCartRepository(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}
