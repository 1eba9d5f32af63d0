package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/realtime"
)

// ---------------------------------------------------------------------------
// Fake push server
// ---------------------------------------------------------------------------

type fakePushServer struct {
	srv *httptest.Server

	rejectAuth atomic.Bool
	skipAck    atomic.Bool
	dials      atomic.Int32

	mu       sync.Mutex
	conns    []*websocket.Conn
	tokens   []string
	received chan realtime.Envelope
}

func newFakePushServer(t *testing.T) *fakePushServer {
	t.Helper()

	f := &fakePushServer{received: make(chan realtime.Envelope, 64)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePushServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func (f *fakePushServer) serve(w http.ResponseWriter, r *http.Request) {
	f.dials.Add(1)
	if f.rejectAuth.Load() {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.tokens = append(f.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	f.mu.Unlock()

	if !f.skipAck.Load() {
		frame, _ := realtime.Encode(realtime.EventConnected, nil)
		if err := conn.Write(r.Context(), websocket.MessageText, frame); err != nil {
			return
		}
	}

	for {
		_, frame, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		env, err := realtime.Decode(frame)
		if err == nil {
			f.received <- env
		}
	}
}

func (f *fakePushServer) latest(t *testing.T) *websocket.Conn {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	return f.conns[len(f.conns)-1]
}

func (f *fakePushServer) push(t *testing.T, event string, data any) {
	t.Helper()

	frame, err := realtime.Encode(event, data)
	require.NoError(t, err)
	f.pushRaw(t, frame)
}

func (f *fakePushServer) pushRaw(t *testing.T, frame []byte) {
	t.Helper()
	require.NoError(t, f.latest(t).Write(context.Background(), websocket.MessageText, frame))
}

func (f *fakePushServer) expect(t *testing.T, event, data string) {
	t.Helper()

	select {
	case env := <-f.received:
		assert.Equal(t, event, env.Event)
		assert.JSONEq(t, `"`+data+`"`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", event)
	}
}

func staticToken(tok string) realtime.TokenSource {
	return realtime.TokenFunc(func(context.Context) (string, error) { return tok, nil })
}

func openBridge(t *testing.T, f *fakePushServer) *realtime.Bridge {
	t.Helper()

	b := realtime.New(realtime.Options{
		URL:            f.url(),
		Tokens:         staticToken("tok-1"),
		ReconnectDelay: 10 * time.Millisecond,
	})
	require.NoError(t, b.Open(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func assertSilent[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func TestBridge_Open(t *testing.T) {
	t.Parallel()

	t.Run("handshake sends bearer token", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		assert.Equal(t, realtime.StateConnected, b.State())
		f.mu.Lock()
		assert.Equal(t, []string{"tok-1"}, f.tokens)
		f.mu.Unlock()

		require.NoError(t, b.Open(context.Background()), "second Open is a no-op")
		assert.Equal(t, int32(1), f.dials.Load())
	})

	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		f.rejectAuth.Store(true)

		b := realtime.New(realtime.Options{URL: f.url(), Tokens: staticToken("bad")})
		err := b.Open(context.Background())
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Equal(t, realtime.StateDisconnected, b.State())
	})

	t.Run("token fetch failure", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		boom := errors.New("no session")
		b := realtime.New(realtime.Options{
			URL:    f.url(),
			Tokens: realtime.TokenFunc(func(context.Context) (string, error) { return "", boom }),
		})

		require.ErrorIs(t, b.Open(context.Background()), boom)
		assert.Equal(t, int32(0), f.dials.Load())
	})

	t.Run("missing ack times out", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		f.skipAck.Store(true)

		b := realtime.New(realtime.Options{
			URL:              f.url(),
			Tokens:           staticToken("tok"),
			HandshakeTimeout: 100 * time.Millisecond,
		})
		require.Error(t, b.Open(context.Background()))
		assert.Equal(t, realtime.StateDisconnected, b.State())
	})

	t.Run("closed bridge cannot reopen", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())
		require.ErrorIs(t, b.Open(context.Background()), realtime.ErrClosed)
	})
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

func TestBridge_JoinLeave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("join is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		require.NoError(t, b.JoinBoard(ctx, "b1"))
		require.NoError(t, b.JoinBoard(ctx, "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")
		assertSilent(t, f.received)
		assert.Equal(t, realtime.StateJoinedBoard, b.State())
		assert.Equal(t, "b1", b.Board())
	})

	t.Run("switching boards leaves the previous one", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		require.NoError(t, b.JoinBoard(ctx, "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")

		stale := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { stale <- ev })

		require.NoError(t, b.JoinBoard(ctx, "b2"))
		f.expect(t, realtime.EventLeaveBoard, "b1")
		f.expect(t, realtime.EventJoinBoard, "b2")
		assert.Equal(t, "b2", b.Board())

		calls := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { calls <- ev })

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{
			Operation: domain.OperationUpdate,
			Task:      domain.Task{ID: "t1", Board: "b1"},
		})
		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{
			Operation: domain.OperationUpdate,
			Task:      domain.Task{ID: "t2", Board: "b2"},
		})
		assert.Equal(t, "t2", recv(t, calls).Task.ID)
		assertSilent(t, stale)
	})

	t.Run("leave when not joined", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		require.NoError(t, b.LeaveBoard(ctx, "b1"))
		assertSilent(t, f.received)
		assert.Equal(t, realtime.StateConnected, b.State())
	})

	t.Run("groups", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		require.NoError(t, b.JoinGroup(ctx, "g1"))
		f.expect(t, realtime.EventJoinGroup, "g1")
		require.NoError(t, b.LeaveGroup(ctx, "g1"))
		f.expect(t, realtime.EventLeaveGroup, "g1")
		require.NoError(t, b.LeaveGroup(ctx, "g1"))
		assertSilent(t, f.received)
	})

	t.Run("join while disconnected", func(t *testing.T) {
		t.Parallel()

		b := realtime.New(realtime.Options{URL: "ws://127.0.0.1:1/ws", Tokens: staticToken("t")})
		require.ErrorIs(t, b.JoinBoard(ctx, "b1"), realtime.ErrNotConnected)
		assert.Equal(t, "b1", b.Board())
	})
}

// ---------------------------------------------------------------------------
// Event fan-out
// ---------------------------------------------------------------------------

func TestBridge_Dispatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) (*fakePushServer, *realtime.Bridge) {
		t.Helper()
		f := newFakePushServer(t)
		b := openBridge(t, f)
		require.NoError(t, b.JoinBoard(ctx, "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")
		return f, b
	}

	t.Run("routes by operation to every subscriber", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		created := make(chan domain.TaskEvent, 4)
		updatedA := make(chan domain.TaskEvent, 4)
		updatedB := make(chan domain.TaskEvent, 4)
		b.OnTaskCreated(func(ev domain.TaskEvent) { created <- ev })
		b.OnTaskUpdated(func(ev domain.TaskEvent) { updatedA <- ev })
		b.OnTaskUpdated(func(ev domain.TaskEvent) { updatedB <- ev })

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{
			Operation: domain.OperationCreate,
			Task:      domain.Task{ID: "t1", Board: "b1", Status: "Todo"},
		})
		ev := recv(t, created)
		assert.Equal(t, "t1", ev.Task.ID)

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{
			Operation:     domain.OperationUpdate,
			Task:          domain.Task{ID: "t1", Board: "b1", Status: "Done"},
			CorrelationID: "c-1",
		})
		assert.Equal(t, "Done", recv(t, updatedA).Task.Status)
		assert.Equal(t, "c-1", recv(t, updatedB).CorrelationID)
		assertSilent(t, created)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		got := make(chan domain.TaskEvent, 4)
		stop := b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })
		stop()
		stop()

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t1"}})
		assertSilent(t, got)
	})

	t.Run("malformed frames are dropped", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		got := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })

		f.pushRaw(t, []byte(`not json`))
		f.pushRaw(t, []byte(`{"event":"tasks:update","data":{"operation":"UPDATE","task":"oops"}}`))
		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: "DELETE", Task: domain.Task{ID: "t1"}})
		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t2", Board: "b1"}})

		assert.Equal(t, "t2", recv(t, got).Task.ID)
		assertSilent(t, got)
		assert.Equal(t, realtime.StateJoinedBoard, b.State())
	})

	t.Run("other boards are ignored", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		got := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })
		boards := make(chan domain.Board, 4)
		b.OnBoardUpdated(func(board domain.Board) { boards <- board })

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t1", Board: "b9"}})
		f.push(t, realtime.EventBoardUpdated, domain.Board{ID: "b9"})
		f.push(t, realtime.EventBoardUpdated, domain.Board{ID: "b1", Name: "Renamed"})

		assert.Equal(t, "Renamed", recv(t, boards).Name)
		assertSilent(t, got)
	})

	t.Run("list notifications", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		boards := make(chan struct{}, 1)
		groups := make(chan struct{}, 1)
		b.OnBoardsUpdate(func() { boards <- struct{}{} })
		b.OnGroupsUpdate(func() { groups <- struct{}{} })

		f.push(t, realtime.EventBoardsUpdate, nil)
		f.push(t, realtime.EventGroupsUpdate, nil)
		recv(t, boards)
		recv(t, groups)
	})

	t.Run("leave detaches task listeners", func(t *testing.T) {
		t.Parallel()

		f, b := setup(t)

		got := make(chan domain.TaskEvent, 4)
		b.OnTaskCreated(func(ev domain.TaskEvent) { got <- ev })
		require.NoError(t, b.LeaveBoard(ctx, "b1"))
		f.expect(t, realtime.EventLeaveBoard, "b1")

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationCreate, Task: domain.Task{ID: "t1", Board: "b1"}})
		assertSilent(t, got)
	})
}

// ---------------------------------------------------------------------------
// Reconnection
// ---------------------------------------------------------------------------

func TestBridge_Reconnect(t *testing.T) {
	t.Parallel()

	t.Run("rejoins board after drop", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)
		require.NoError(t, b.JoinBoard(context.Background(), "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")

		got := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })

		require.NoError(t, f.latest(t).Close(websocket.StatusGoingAway, "restart"))

		f.expect(t, realtime.EventJoinBoard, "b1")
		assert.Equal(t, int32(2), f.dials.Load())
		require.Eventually(t, func() bool { return b.State() == realtime.StateJoinedBoard }, 2*time.Second, 10*time.Millisecond)

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t1", Board: "b1"}})
		assert.Equal(t, "t1", recv(t, got).Task.ID)
	})

	t.Run("bounded attempts", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := realtime.New(realtime.Options{
			URL:                  f.url(),
			Tokens:               staticToken("tok"),
			HandshakeTimeout:     50 * time.Millisecond,
			ReconnectDelay:       5 * time.Millisecond,
			MaxReconnectAttempts: 3,
		})
		require.NoError(t, b.Open(context.Background()))
		t.Cleanup(func() { _ = b.Close() })

		f.skipAck.Store(true)
		require.NoError(t, f.latest(t).CloseNow())

		require.Eventually(t, func() bool { return f.dials.Load() == 4 }, 5*time.Second, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(4), f.dials.Load())
		assert.Equal(t, realtime.StateDisconnected, b.State())
	})

	t.Run("open during reconnect delay keeps one connection", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := realtime.New(realtime.Options{
			URL:            f.url(),
			Tokens:         staticToken("tok"),
			ReconnectDelay: 200 * time.Millisecond,
		})
		require.NoError(t, b.Open(context.Background()))
		t.Cleanup(func() { _ = b.Close() })
		require.NoError(t, b.JoinBoard(context.Background(), "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")

		got := make(chan domain.TaskEvent, 4)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })

		require.NoError(t, f.latest(t).Close(websocket.StatusGoingAway, "restart"))
		require.Eventually(t, func() bool { return b.State() == realtime.StateDisconnected }, 2*time.Second, 5*time.Millisecond)

		require.NoError(t, b.Open(context.Background()))
		f.expect(t, realtime.EventJoinBoard, "b1")
		assert.Equal(t, realtime.StateJoinedBoard, b.State())

		time.Sleep(400 * time.Millisecond)
		assert.Equal(t, int32(2), f.dials.Load(), "pending reconnect stands down")
		assertSilent(t, f.received)

		f.push(t, realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t1", Board: "b1"}})
		assert.Equal(t, "t1", recv(t, got).Task.ID)
		assertSilent(t, got)
	})

	t.Run("concurrent opens dispatch once", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := realtime.New(realtime.Options{URL: f.url(), Tokens: staticToken("tok")})
		t.Cleanup(func() { _ = b.Close() })

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- b.Open(context.Background())
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		require.NoError(t, b.JoinBoard(context.Background(), "b1"))
		f.expect(t, realtime.EventJoinBoard, "b1")

		got := make(chan domain.TaskEvent, 8)
		b.OnTaskUpdated(func(ev domain.TaskEvent) { got <- ev })

		frame, err := realtime.Encode(realtime.EventTaskUpdate, domain.TaskEvent{Operation: domain.OperationUpdate, Task: domain.Task{ID: "t1", Board: "b1"}})
		require.NoError(t, err)
		f.mu.Lock()
		conns := append([]*websocket.Conn(nil), f.conns...)
		f.mu.Unlock()
		for _, c := range conns {
			_ = c.Write(context.Background(), websocket.MessageText, frame)
		}

		assert.Equal(t, "t1", recv(t, got).Task.ID)
		assertSilent(t, got)
	})

	t.Run("auth rejection stops retrying", func(t *testing.T) {
		t.Parallel()

		f := newFakePushServer(t)
		b := openBridge(t, f)

		f.rejectAuth.Store(true)
		require.NoError(t, f.latest(t).Close(websocket.StatusGoingAway, "restart"))

		require.Eventually(t, func() bool { return f.dials.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(2), f.dials.Load())
		assert.Equal(t, realtime.StateDisconnected, b.State())
	})
}
