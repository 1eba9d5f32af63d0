package server

import (
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/collaboard/internal/api/v1"
	"github.com/gosuda/collaboard/internal/api/ws"
)

func registerAuthRoutes(api huma.API, deps Deps, cookie v1.CookieConfig) {
	v1.RegisterAuthRoutes(api, deps.Upstream, cookie)
}

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterSessionRoutes(api)
	v1.RegisterBoardRoutes(api, deps.Upstream, deps.PubSub)
	v1.RegisterOrderRoutes(api, deps.Orders)
	v1.RegisterTaskRoutes(api, deps.Upstream, deps.PubSub)
	v1.RegisterUserRoutes(api, deps.Upstream)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/ws", hub.Serve)
}

// originPatterns turns CORS origins into the host patterns the WebSocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			out = append(out, strings.TrimSpace(o))
			continue
		}
		out = append(out, u.Host)
	}
	return out
}
