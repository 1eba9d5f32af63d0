package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gosuda/collaboard/internal/domain"
)

const orderKeyPrefix = "collaboard:order:"

// OrderRepo stores order maps as JSON strings, one key per storage key.
// It satisfies order.Backend.
type OrderRepo struct {
	client *redis.Client
}

func NewOrderRepo(client *redis.Client) *OrderRepo {
	return &OrderRepo{client: client}
}

// Load returns the stored map, or an empty one when the key was never saved.
func (r *OrderRepo) Load(ctx context.Context, key string) (domain.OrderMap, error) {
	raw, err := r.client.Get(ctx, orderKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis.OrderRepo.Load: %w", err)
	}

	m := domain.OrderMap{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("redis.OrderRepo.Load: decode %s: %w", key, err)
	}
	return m, nil
}

func (r *OrderRepo) Save(ctx context.Context, key string, m domain.OrderMap) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis.OrderRepo.Save: encode: %w", err)
	}
	if err := r.client.Set(ctx, orderKeyPrefix+key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis.OrderRepo.Save: %w", err)
	}
	return nil
}
