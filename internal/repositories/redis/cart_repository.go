package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/chrisdamba/foodcart/internal/models"
)

const serviceName = "foodcart"

type Options struct {
	Addr     string
	Password string
	DB       int
}

type CartRepository struct {
	client *goredis.Client
}

func NewCartRepository(ctx context.Context, opts Options) (*CartRepository, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewCartRepositoryFromClient(client), nil
}

func NewCartRepositoryFromClient(client *goredis.Client) *CartRepository {
	return &CartRepository{client: client}
}

// GenerateKey namespaces keys as service:operation:key.
func GenerateKey(operation, key string) string {
	return fmt.Sprintf("%s:%s:%s", serviceName, operation, key)
}

func (r *CartRepository) Load(ctx context.Context, profile string) (*models.CartState, error) {
	data, err := r.client.Get(ctx, GenerateKey("cart", profile)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart state: %w", err)
	}

	var state models.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode cart state: %w", err)
	}
	return &state, nil
}

func (r *CartRepository) Save(ctx context.Context, profile string, state *models.CartState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cart state: %w", err)
	}
	if err := r.client.Set(ctx, GenerateKey("cart", profile), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save cart state: %w", err)
	}
	return nil
}

func (r *CartRepository) Close() error {
	return r.client.Close()
}
