package redis_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/store/redis"
)

func newPubSub(t *testing.T) (*redis.PubSub, *miniredis.Miniredis) {
	t.Helper()

	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ps := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: m.Addr()}))
	t.Cleanup(func() { _ = ps.Close() })
	return ps, m
}

func TestNew_Unreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := redis.New(ctx, "127.0.0.1:1", "", 0)
	require.Error(t, err)
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	ps, _ := newPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, cleanup, err := ps.Subscribe(ctx, redis.BoardChannel("b1"))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, ps.Publish(ctx, redis.BoardChannel("b2"), []byte("other")))
	require.NoError(t, ps.Publish(ctx, redis.BoardChannel("b1"), []byte(`{"event":"boardUpdated"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"event":"boardUpdated"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrderRepo(t *testing.T) {
	t.Parallel()

	ps, m := newPubSub(t)
	repo := ps.Orders()
	ctx := context.Background()

	got, err := repo.Load(ctx, "u1:board-order-b1")
	require.NoError(t, err)
	assert.Empty(t, got)

	want := domain.OrderMap{"Todo": {"t2", "t1"}, "Done": {}}
	require.NoError(t, repo.Save(ctx, "u1:board-order-b1", want))

	got, err = repo.Load(ctx, "u1:board-order-b1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := repo.Load(ctx, "u2:board-order-b1")
	require.NoError(t, err)
	assert.Empty(t, other, "keys are isolated per owner")

	require.NoError(t, m.Set("collaboard:order:broken", "{"))
	_, err = repo.Load(ctx, "broken")
	require.Error(t, err)
}
