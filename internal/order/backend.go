package order

import (
	"context"
	"sync"

	"github.com/gosuda/collaboard/internal/domain"
)

const storagePrefix = "board-order-"

// StorageKey returns the durable storage key for a board's order.
func StorageKey(boardID string) string {
	return storagePrefix + boardID
}

// Backend is durable key-value storage for order maps. Load returns an empty
// map, not an error, for keys that were never saved.
type Backend interface {
	Load(ctx context.Context, key string) (domain.OrderMap, error)
	Save(ctx context.Context, key string, m domain.OrderMap) error
}

// MemoryBackend keeps order maps in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]domain.OrderMap
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]domain.OrderMap)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) (domain.OrderMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.data[key]
	if !ok {
		return domain.OrderMap{}, nil
	}
	return m.Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, m domain.OrderMap) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = m.Clone()
	return nil
}
