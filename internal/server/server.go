package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/collaboard/internal/api/v1"
	"github.com/gosuda/collaboard/internal/api/ws"
	"github.com/gosuda/collaboard/internal/config"
	"github.com/gosuda/collaboard/internal/order"
	"github.com/gosuda/collaboard/internal/server/middleware"
	"github.com/gosuda/collaboard/internal/upstream"
)

// PubSub is the realtime transport shared by the API (publish) and the push
// channel (subscribe). *redis.PubSub satisfies this interface.
type PubSub interface {
	v1.Publisher
	ws.Subscriber
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Upstream v1.Upstream
	PubSub   PubSub
	Orders   order.Backend
	Sessions middleware.OwnerResolver
	// Assets, when non-nil, is served as a single-page frontend on all
	// unmatched routes.
	Assets fs.FS
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup of the rate limiters.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", upstream.HeaderCorrelationID},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	cookie := v1.CookieConfig{Secure: cfg.Session.CookieSecure, MaxAge: cfg.Session.MaxAge}

	// Mount API routes on /api with two sub-groups:
	// 1. Unauthenticated sign-in routes, limited per client IP.
	// 2. Session routes, limited per user.
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoStore)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst))

			api := humachi.New(r, apiConfig("Collaboard Auth API"))
			registerAuthRoutes(api, deps, cookie)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Session(deps.Sessions))
			r.Use(middleware.RateLimit(ctx, cfg.RateLimit.APIRPS, cfg.RateLimit.APIBurst))

			api := humachi.New(r, apiConfig("Collaboard API"))
			registerAPIRoutes(api, deps)
		})
	})

	// Push channel.
	hub := ws.NewHub(deps.PubSub, originPatterns(cfg.Server.CORSOrigins))
	router.Group(func(r chi.Router) {
		r.Use(middleware.Session(deps.Sessions))
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// This must be the last route registered so API and WS routes take priority.
	if deps.Assets != nil {
		router.NotFound(spaFileServer(deps.Assets).ServeHTTP)
		log.Info().Msg("static frontend enabled")
	}

	return s
}

func apiConfig(title string) huma.Config {
	c := huma.DefaultConfig(title, "1.0.0")
	c.Servers = []*huma.Server{
		{URL: "/api"},
	}
	return c
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
