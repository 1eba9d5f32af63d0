package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/collaboard/internal/auth"
	"github.com/gosuda/collaboard/internal/config"
	"github.com/gosuda/collaboard/internal/order"
	"github.com/gosuda/collaboard/internal/server"
	"github.com/gosuda/collaboard/internal/server/middleware"
	redisstore "github.com/gosuda/collaboard/internal/store/redis"
	"github.com/gosuda/collaboard/internal/upstream"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:         ":0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			CORSOrigins:  []string{"http://localhost:3000"},
		},
		Session: config.SessionConfig{MaxAge: 7 * 24 * time.Hour},
		RateLimit: config.RateLimitConfig{
			AuthRPS:   100,
			AuthBurst: 100,
			APIRPS:    100,
			APIBurst:  100,
		},
	}
}

type seenHeader struct {
	mu    sync.Mutex
	value string
}

func (s *seenHeader) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

func (s *seenHeader) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// backend is a fake upstream that records the Authorization header it saw.
func backend(t *testing.T) (*httptest.Server, *seenHeader) {
	t.Helper()

	seenAuth := &seenHeader{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/signin", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"accessToken":"tok-from-backend"}`)
	})
	mux.HandleFunc("GET /boards/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenAuth.set(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","name":"Roadmap","columns":[{"name":"Todo"}],"tasks":[],"favourite":false}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seenAuth
}

func newServer(t *testing.T, assets fstest.MapFS) (http.Handler, *seenHeader) {
	t.Helper()

	up, seenAuth := backend(t)

	mr := miniredis.RunT(t)
	pubsub := redisstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = pubsub.Close() })

	deps := server.Deps{
		Upstream: upstream.New(up.URL, 5*time.Second),
		PubSub:   pubsub,
		Orders:   order.NewMemoryBackend(),
		Sessions: auth.NewVerifier(""),
	}
	if assets != nil {
		deps.Assets = assets
	}

	srv := server.New(t.Context(), testConfig(), deps)
	return srv.Handler(), seenAuth
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h, _ := newServer(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_RequiresSession(t *testing.T) {
	t.Parallel()

	h, _ := newServer(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/boards/b1", http.NoBody))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestAPI_ProxiesWithBearer(t *testing.T) {
	t.Parallel()

	h, seenAuth := newServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/boards/b1", http.NoBody)
	req.Header.Set("Authorization", "Bearer opaque-token")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Bearer opaque-token", seenAuth.get())

	var board struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	assert.Equal(t, "b1", board.ID)
}

func TestAPI_SigninThenCookieSession(t *testing.T) {
	t.Parallel()

	h, seenAuth := newServer(t, nil)

	signin := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(`{"login":"alice","password":"pw"}`))
	signin.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.Equal(t, "tok-from-backend", session.Value)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/token", http.NoBody)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tok-from-backend")

	req = httptest.NewRequest(http.MethodGet, "/api/boards/b9", http.NoBody)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer tok-from-backend", seenAuth.get(), "cookie is swapped for a bearer header")
}

func TestSPA(t *testing.T) {
	t.Parallel()

	assets := fstest.MapFS{
		"index.html": {Data: []byte("<html>collaboard</html>")},
		"app.js":     {Data: []byte("console.log('hi')")},
	}
	h, _ := newServer(t, assets)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/", wantCode: http.StatusOK, wantBody: "collaboard"},
		{path: "/app.js", wantCode: http.StatusOK, wantBody: "console.log"},
		{path: "/boards/b1", wantCode: http.StatusOK, wantBody: "collaboard"},
		{path: "/api/nope", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			req.Header.Set("Authorization", "Bearer tok")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}
