package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/realtime"
	"github.com/gosuda/collaboard/internal/server/middleware"
	redisstore "github.com/gosuda/collaboard/internal/store/redis"
	"github.com/gosuda/collaboard/internal/upstream"
)

// forward sends req with the caller's token and decodes a 2xx body into out.
// Upstream failures keep their status; the message comes from the backend's
// error field or fallback.
func forward(ctx context.Context, up Upstream, req upstream.Request, fallback string, out any) error {
	token, ok := middleware.TokenFromContext(ctx)
	if !ok {
		return huma.Error401Unauthorized("Unauthorized")
	}
	req.Token = token
	return call(ctx, up, req, fallback, out)
}

// call is forward without a session, for the sign-in routes.
func call(ctx context.Context, up Upstream, req upstream.Request, fallback string, out any) error {
	resp, err := up.Do(ctx, req)
	if err != nil {
		return huma.Error502BadGateway(fallback, err)
	}
	if !resp.OK() {
		status := resp.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return huma.NewError(status, upstream.ErrorMessage(resp.Body, fallback))
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return huma.Error502BadGateway(fallback, err)
	}
	return nil
}

// publish fans an event out to the given rooms. Delivery is best effort; the
// request that caused it has already succeeded upstream.
func publish(ctx context.Context, pub Publisher, event string, data any, channels ...string) {
	if pub == nil {
		return
	}
	frame, err := realtime.Encode(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("api: encode realtime event")
		return
	}
	for _, ch := range channels {
		if err := pub.Publish(ctx, ch, frame); err != nil {
			log.Warn().Err(err).Str("channel", ch).Str("event", event).Msg("api: publish realtime event")
		}
	}
}

func boardRoom(boardID string) string {
	return redisstore.BoardChannel(boardID)
}

func groupRoom(groupID string) string {
	return redisstore.GroupChannel(groupID)
}
