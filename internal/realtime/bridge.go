package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/domain"
)

// State is the connection state of a Bridge.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoinedBoard
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoinedBoard:
		return "joined_board"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: bridge closed")

	// errSuperseded reports that another connect installed a connection
	// first; the newer dial was discarded.
	errSuperseded = errors.New("realtime: connection already established")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectDelay   = time.Second
	defaultMaxReconnects    = 5
	readLimit               = 1 << 20
)

// Options configures a Bridge.
type Options struct {
	// URL of the push endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Tokens supplies the bearer token. Wrap it in a CachedTokenSource to
	// avoid a session round trip per connection attempt.
	Tokens TokenSource
	// HTTPClient is used for the upgrade request. Optional.
	HTTPClient *http.Client

	HandshakeTimeout     time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// invalidator is implemented by token sources that cache, so an auth
// rejection forces a refetch.
type invalidator interface {
	Invalidate()
}

// Bridge is the client end of the push channel. One Bridge is shared by
// everything in the process that needs realtime updates; the owner calls
// Open and Close.
type Bridge struct {
	opts Options

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	cancel  context.CancelFunc
	board   string
	groups  map[string]struct{}
	closing chan struct{}
	closed  bool

	writeMu sync.Mutex

	created      listeners[func(domain.TaskEvent)]
	updated      listeners[func(domain.TaskEvent)]
	boardUpdated listeners[func(domain.Board)]
	boardsUpdate listeners[func()]
	groupsUpdate listeners[func()]
}

// New creates a disconnected Bridge.
func New(opts Options) *Bridge {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnects
	}
	return &Bridge{
		opts:    opts,
		groups:  make(map[string]struct{}),
		closing: make(chan struct{}),
	}
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Board returns the joined board ID, or "".
func (b *Bridge) Board() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.board
}

// Open fetches a token, dials the push server and waits for its connected
// acknowledgment. Calling Open on a connected bridge is a no-op.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	if err := b.connect(ctx); err != nil {
		if errors.Is(err, errSuperseded) {
			return nil
		}
		b.markDisconnected()
		log.Error().Err(err).Str("url", b.opts.URL).Msg("realtime: connect failed")
		return fmt.Errorf("realtime.Bridge.Open: %w", err)
	}
	// Rooms joined while disconnected, or held across a drop whose
	// reconnect this call overtook.
	if err := b.rejoin(ctx); err != nil {
		log.Warn().Err(err).Msg("realtime: rejoin after open")
	}
	return nil
}

// Close tears down the connection and every subscription. The bridge cannot
// be reopened.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	conn, cancel := b.conn, b.cancel
	b.conn, b.cancel = nil, nil
	b.board = ""
	b.groups = make(map[string]struct{})
	b.state = StateDisconnected
	b.mu.Unlock()

	b.clearBoardListeners()
	b.boardsUpdate.clear()
	b.groupsUpdate.clear()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			log.Debug().Err(err).Msg("realtime: close")
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// JoinBoard subscribes to the board's room. Joining the board already joined
// is a no-op; joining another board leaves the previous one first, detaching
// its listeners. When disconnected the board is remembered and joined on the
// next successful reconnect, and ErrNotConnected is returned.
func (b *Bridge) JoinBoard(ctx context.Context, boardID string) error {
	b.mu.Lock()
	prev := b.board
	b.mu.Unlock()

	if prev == boardID {
		return nil
	}
	if prev != "" {
		if err := b.LeaveBoard(ctx, prev); err != nil {
			log.Warn().Err(err).Str("board_id", prev).Msg("realtime: leave previous board")
		}
	}

	b.mu.Lock()
	b.board = boardID
	b.mu.Unlock()

	if err := b.send(ctx, EventJoinBoard, boardID); err != nil {
		return fmt.Errorf("realtime.Bridge.JoinBoard: %w", err)
	}
	b.setState(StateJoinedBoard)
	return nil
}

// LeaveBoard unsubscribes from the board's room and drops every board-scoped
// listener. Safe to call when not joined.
func (b *Bridge) LeaveBoard(ctx context.Context, boardID string) error {
	b.mu.Lock()
	if b.board == "" || b.board != boardID {
		b.mu.Unlock()
		return nil
	}
	b.board = ""
	if b.state == StateJoinedBoard {
		b.state = StateConnected
	}
	b.mu.Unlock()

	b.clearBoardListeners()

	if err := b.send(ctx, EventLeaveBoard, boardID); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("realtime.Bridge.LeaveBoard: %w", err)
	}
	return nil
}

// JoinGroup subscribes to a group's room.
func (b *Bridge) JoinGroup(ctx context.Context, groupID string) error {
	b.mu.Lock()
	b.groups[groupID] = struct{}{}
	b.mu.Unlock()

	if err := b.send(ctx, EventJoinGroup, groupID); err != nil {
		return fmt.Errorf("realtime.Bridge.JoinGroup: %w", err)
	}
	return nil
}

// LeaveGroup unsubscribes from a group's room.
func (b *Bridge) LeaveGroup(ctx context.Context, groupID string) error {
	b.mu.Lock()
	_, joined := b.groups[groupID]
	delete(b.groups, groupID)
	b.mu.Unlock()

	if !joined {
		return nil
	}
	if err := b.send(ctx, EventLeaveGroup, groupID); err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("realtime.Bridge.LeaveGroup: %w", err)
	}
	return nil
}

// OnTaskCreated registers fn for CREATE task events on the joined board.
func (b *Bridge) OnTaskCreated(fn func(domain.TaskEvent)) func() {
	return b.created.add(fn)
}

// OnTaskUpdated registers fn for UPDATE task events on the joined board.
func (b *Bridge) OnTaskUpdated(fn func(domain.TaskEvent)) func() {
	return b.updated.add(fn)
}

// OnBoardUpdated registers fn for replacements of the joined board.
func (b *Bridge) OnBoardUpdated(fn func(domain.Board)) func() {
	return b.boardUpdated.add(fn)
}

// OnBoardsUpdate registers fn for "board list changed" notifications.
func (b *Bridge) OnBoardsUpdate(fn func()) func() {
	return b.boardsUpdate.add(fn)
}

// OnGroupsUpdate registers fn for "group list changed" notifications.
func (b *Bridge) OnGroupsUpdate(fn func()) func() {
	return b.groupsUpdate.add(fn)
}

func (b *Bridge) clearBoardListeners() {
	b.created.clear()
	b.updated.clear()
	b.boardUpdated.clear()
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

// markDisconnected records a failed attempt unless another attempt has
// installed a connection meanwhile.
func (b *Bridge) markDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		b.state = StateDisconnected
	}
}

// connect dials, completes the handshake and starts the read loop.
func (b *Bridge) connect(ctx context.Context) error {
	token, err := b.opts.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, b.opts.HandshakeTimeout)
	defer cancelDial()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(dialCtx, b.opts.URL, &websocket.DialOptions{
		HTTPClient: b.opts.HTTPClient,
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			b.invalidateToken()
			return fmt.Errorf("dial: %w", domain.ErrUnauthorized)
		}
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := b.awaitAck(dialCtx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		return ErrClosed
	}
	if b.conn != nil {
		// Open and a reconnect raced; keep the installed connection so
		// frames are read by one loop only.
		b.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "duplicate")
		return errSuperseded
	}
	b.conn = conn
	b.cancel = cancel
	b.state = StateConnected
	b.mu.Unlock()

	go b.readLoop(loopCtx, conn)

	log.Info().Str("url", b.opts.URL).Msg("realtime: connected")
	return nil
}

func (b *Bridge) awaitAck(ctx context.Context, conn *websocket.Conn) error {
	_, frame, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	env, err := Decode(frame)
	if err != nil {
		return fmt.Errorf("await ack: %w", err)
	}
	switch env.Event {
	case EventConnected:
		return nil
	case EventError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		if p.Code == http.StatusUnauthorized {
			b.invalidateToken()
			return fmt.Errorf("await ack: %w", domain.ErrUnauthorized)
		}
		return fmt.Errorf("await ack: server error: %s", p.Message)
	default:
		return fmt.Errorf("await ack: unexpected event %q", env.Event)
	}
}

func (b *Bridge) invalidateToken() {
	if inv, ok := b.opts.Tokens.(invalidator); ok {
		inv.Invalidate()
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			b.handleDrop(conn, err)
			return
		}
		b.dispatch(frame)
	}
}

// handleDrop runs when the read loop ends. Unless the bridge is closing it
// marks the bridge disconnected and starts reconnecting.
func (b *Bridge) handleDrop(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	if b.closed || b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.state = StateDisconnected
	b.mu.Unlock()

	log.Warn().Err(cause).Int("close_status", int(websocket.CloseStatus(cause))).Msg("realtime: connection lost")
	go b.reconnect()
}

func (b *Bridge) reconnect() {
	for attempt := 1; attempt <= b.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-b.closing:
			return
		case <-time.After(b.opts.ReconnectDelay):
		}

		if !b.beginReconnect() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.opts.HandshakeTimeout)
		err := b.connect(ctx)
		if errors.Is(err, errSuperseded) {
			cancel()
			return
		}
		if err == nil {
			err = b.rejoin(ctx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("realtime: rejoin after reconnect")
			}
			return
		}
		cancel()

		b.markDisconnected()
		if errors.Is(err, ErrClosed) {
			return
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			log.Error().Err(err).Msg("realtime: reconnect rejected, giving up")
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("realtime: reconnect failed")
	}
	log.Error().Int("attempts", b.opts.MaxReconnectAttempts).Msg("realtime: reconnect attempts exhausted")
}

// beginReconnect marks the bridge connecting unless it was closed or an
// Open call already restored the connection.
func (b *Bridge) beginReconnect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.conn != nil {
		return false
	}
	b.state = StateConnecting
	return true
}

// rejoin re-sends join messages for the rooms held before the drop.
func (b *Bridge) rejoin(ctx context.Context) error {
	b.mu.Lock()
	board := b.board
	groups := make([]string, 0, len(b.groups))
	for g := range b.groups {
		groups = append(groups, g)
	}
	b.mu.Unlock()

	var errs []error
	if board != "" {
		if err := b.send(ctx, EventJoinBoard, board); err != nil {
			errs = append(errs, err)
		} else {
			b.setState(StateJoinedBoard)
		}
	}
	for _, g := range groups {
		if err := b.send(ctx, EventJoinGroup, g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) send(ctx context.Context, event, id string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := Encode(event, id)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// dispatch decodes a frame and fans it out. Malformed frames are logged and
// dropped; a missed update is recovered on the next fetch.
func (b *Bridge) dispatch(frame []byte) {
	env, err := Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("realtime: dropping malformed frame")
		return
	}

	current := b.Board()

	switch env.Event {
	case EventTaskUpdate:
		var ev domain.TaskEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil || !ev.Valid() {
			log.Warn().Err(errors.Join(domain.ErrMalformedEvent, err)).Msg("realtime: dropping task event")
			return
		}
		if current == "" {
			return
		}
		if board := ev.BoardOf(); board != "" && board != current {
			return
		}
		subs := b.updated.snapshot()
		if ev.Operation == domain.OperationCreate {
			subs = b.created.snapshot()
		}
		for _, fn := range subs {
			fn(ev)
		}

	case EventBoardUpdated:
		var board domain.Board
		if err := json.Unmarshal(env.Data, &board); err != nil || board.ID == "" {
			log.Warn().Err(errors.Join(domain.ErrMalformedEvent, err)).Msg("realtime: dropping board event")
			return
		}
		if current == "" || board.ID != current {
			return
		}
		for _, fn := range b.boardUpdated.snapshot() {
			fn(board)
		}

	case EventBoardsUpdate:
		for _, fn := range b.boardsUpdate.snapshot() {
			fn()
		}

	case EventGroupsUpdate:
		for _, fn := range b.groupsUpdate.snapshot() {
			fn()
		}

	case EventError:
		var p ErrorPayload
		_ = json.Unmarshal(env.Data, &p)
		log.Warn().Int("code", p.Code).Str("message", p.Message).Msg("realtime: server error")

	default:
		log.Debug().Str("event", env.Event).Msg("realtime: ignoring event")
	}
}
