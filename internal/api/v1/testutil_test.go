package v1_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gosuda/collaboard/internal/realtime"
	"github.com/gosuda/collaboard/internal/server/middleware"
	"github.com/gosuda/collaboard/internal/upstream"
)

// ---------------------------------------------------------------------------
// Context helpers: inject the session into context for the Ctx request helpers
// ---------------------------------------------------------------------------

func sessionCtx(owner string) context.Context {
	return middleware.WithSession(context.Background(), "tok-"+owner, owner)
}

// ---------------------------------------------------------------------------
// Mock Upstream
// ---------------------------------------------------------------------------

type mockUpstream struct {
	doFunc func(ctx context.Context, req upstream.Request) (*upstream.Response, error)

	mu    sync.Mutex
	calls []upstream.Request
}

func (m *mockUpstream) Do(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.doFunc(ctx, req)
}

func (m *mockUpstream) requests() []upstream.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]upstream.Request(nil), m.calls...)
}

// reply returns a doFunc that answers every request with status and body.
func reply(status int, body any) func(context.Context, upstream.Request) (*upstream.Response, error) {
	return func(context.Context, upstream.Request) (*upstream.Response, error) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return &upstream.Response{Status: status, Body: raw}, nil
	}
}

// ---------------------------------------------------------------------------
// Mock Publisher
// ---------------------------------------------------------------------------

type published struct {
	channel string
	env     realtime.Envelope
}

type mockPublisher struct {
	publishFunc func(ctx context.Context, channel string, payload []byte) error

	mu   sync.Mutex
	sent []published
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.publishFunc != nil {
		if err := m.publishFunc(ctx, channel, payload); err != nil {
			return err
		}
	}
	env, err := realtime.Decode(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, published{channel: channel, env: env})
	m.mu.Unlock()
	return nil
}

func (m *mockPublisher) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.sent...)
}
