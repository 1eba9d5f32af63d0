package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/realtime"
	"github.com/gosuda/collaboard/internal/server/middleware"
	redisstore "github.com/gosuda/collaboard/internal/store/redis"
)

const (
	readLimit = 64 << 10
	outBuffer = 64
)

// Subscriber abstracts the room transport. *redis.PubSub satisfies this
// interface.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub serves the push channel. Each connection is always subscribed to the
// board-list room and joins at most one board room plus any number of group
// rooms on request.
type Hub struct {
	pubsub         Subscriber
	originPatterns []string
}

// NewHub creates a hub. originPatterns are host patterns allowed to open a
// socket cross-origin; same-origin requests are always accepted.
func NewHub(pubsub Subscriber, originPatterns []string) *Hub {
	return &Hub{pubsub: pubsub, originPatterns: originPatterns}
}

// Serve upgrades an authenticated request and runs the connection until
// either side closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing session"}`, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &session{
		hub:   h,
		owner: owner,
		out:   make(chan []byte, outBuffer),
		rooms: newRooms(),
	}
	defer s.rooms.closeAll()

	ack, err := realtime.Encode(realtime.EventConnected, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket encode ack")
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, ack); err != nil {
		log.Debug().Err(err).Msg("websocket write ack")
		return
	}

	if err := s.join(ctx, redisstore.BoardsChannel); err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	go func() {
		defer cancel()
		s.readLoop(ctx, conn)
	}()

	log.Debug().Str("owner", owner).Msg("websocket: client connected")

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg := <-s.out:
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

// session is the per-connection state. rooms is owned by the read loop.
type session struct {
	hub   *Hub
	owner string
	out   chan []byte
	rooms *rooms
	board string
}

func (s *session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, frame, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		if typ != websocket.MessageText {
			s.fail(ctx, http.StatusBadRequest, "text frames only")
			continue
		}
		if err := s.handle(ctx, frame); err != nil {
			s.fail(ctx, http.StatusBadRequest, err.Error())
		}
	}
}

func (s *session) handle(ctx context.Context, frame []byte) error {
	env, err := realtime.Decode(frame)
	if err != nil {
		return err
	}

	var id string
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return fmt.Errorf("%s: data must be an id string", env.Event)
		}
	}

	switch env.Event {
	case realtime.EventJoinBoard, realtime.EventLeaveBoard, realtime.EventJoinGroup, realtime.EventLeaveGroup:
		if id == "" {
			return fmt.Errorf("%s: missing id", env.Event)
		}
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}

	switch env.Event {
	case realtime.EventJoinBoard:
		if s.board == id {
			return nil
		}
		if s.board != "" {
			s.rooms.leave(redisstore.BoardChannel(s.board))
			s.board = ""
		}
		if err := s.join(ctx, redisstore.BoardChannel(id)); err != nil {
			return fmt.Errorf("join board %s: subscribe failed", id)
		}
		s.board = id
	case realtime.EventLeaveBoard:
		if s.board != id {
			return nil
		}
		s.rooms.leave(redisstore.BoardChannel(id))
		s.board = ""
	case realtime.EventJoinGroup:
		if err := s.join(ctx, redisstore.GroupChannel(id)); err != nil {
			return fmt.Errorf("join group %s: subscribe failed", id)
		}
	case realtime.EventLeaveGroup:
		s.rooms.leave(redisstore.GroupChannel(id))
	}

	log.Debug().Str("owner", s.owner).Str("event", env.Event).Str("id", id).Msg("websocket: room change")
	return nil
}

// join subscribes to channel and forwards its payloads to the writer.
func (s *session) join(ctx context.Context, channel string) error {
	if s.rooms.has(channel) {
		return nil
	}

	roomCtx, cancel := context.WithCancel(ctx)
	messages, cleanup, err := s.hub.pubsub.Subscribe(roomCtx, channel)
	if err != nil {
		cancel()
		return fmt.Errorf("ws.session.join: %w", err)
	}
	s.rooms.add(channel, func() {
		cancel()
		cleanup()
	})

	go func() {
		for {
			select {
			case <-roomCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case s.out <- msg:
				case <-roomCtx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (s *session) fail(ctx context.Context, code int, message string) {
	frame, err := realtime.Encode(realtime.EventError, realtime.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case s.out <- frame:
	case <-ctx.Done():
	}
}
