package v1

import (
	"context"

	"github.com/gosuda/collaboard/internal/upstream"
)

// Upstream abstracts the backend client for handler testing.
// *upstream.Client satisfies this interface.
type Upstream interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Publisher abstracts realtime fan-out for handler testing.
// *redis.PubSub satisfies this interface.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
