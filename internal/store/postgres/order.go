package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/collaboard/internal/domain"
)

// OrderRepo keeps one JSONB order map per storage key. It satisfies
// order.Backend.
type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Load(ctx context.Context, key string) (domain.OrderMap, error) {
	m := domain.OrderMap{}

	err := r.pool.QueryRow(ctx,
		`SELECT orders FROM board_orders WHERE key = $1`,
		key,
	).Scan(&m)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OrderMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orderRepo.Load: %w", err)
	}

	return m, nil
}

func (r *OrderRepo) Save(ctx context.Context, key string, m domain.OrderMap) error {
	if m == nil {
		m = domain.OrderMap{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO board_orders (key, orders, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET orders = EXCLUDED.orders, updated_at = now()`,
		key, m,
	)
	if err != nil {
		return fmt.Errorf("orderRepo.Save: %w", err)
	}

	return nil
}
