package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all server configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	// StaticDir, when set, is served as a single-page frontend.
	StaticDir string
}

// UpstreamConfig points at the backend that owns boards and tasks.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig controls the accessToken cookie.
type SessionConfig struct {
	CookieSecure bool
	MaxAge       time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// DatabaseConfig holds the optional PostgreSQL connection used for order
// sync. When DSN is empty orders are kept in Redis.
type DatabaseConfig struct {
	DSN      string
	MaxConns int
}

// JWTConfig holds the optional secret used to verify upstream tokens locally.
// When empty, tokens are forwarded unverified and the upstream decides.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT verification secret config
}

// RateLimitConfig bounds request rates per client IP on auth routes and per
// token elsewhere.
type RateLimitConfig struct {
	AuthRPS   float64
	AuthBurst int
	APIRPS    float64
	APIBurst  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("COLLABOARD_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("COLLABOARD_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	upstreamTimeout, err := getEnvDuration("COLLABOARD_UPSTREAM_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cookieSecure, err := getEnvBool("COLLABOARD_COOKIE_SECURE", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionMaxAge, err := getEnvDuration("COLLABOARD_SESSION_MAX_AGE", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("COLLABOARD_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("COLLABOARD_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	authRPS, err := getEnvFloat("COLLABOARD_RATE_AUTH_RPS", 1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	authBurst, err := getEnvInt("COLLABOARD_RATE_AUTH_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	apiRPS, err := getEnvFloat("COLLABOARD_RATE_API_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	apiBurst, err := getEnvInt("COLLABOARD_RATE_API_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("COLLABOARD_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("COLLABOARD_CORS_ORIGINS", []string{"http://localhost:3000"}),
			StaticDir:    getEnv("COLLABOARD_STATIC_DIR", ""),
		},
		Upstream: UpstreamConfig{
			BaseURL: getEnv("COLLABOARD_UPSTREAM_URL", ""),
			Timeout: upstreamTimeout,
		},
		Session: SessionConfig{
			CookieSecure: cookieSecure,
			MaxAge:       sessionMaxAge,
		},
		Redis: RedisConfig{
			Addr:     getEnv("COLLABOARD_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("COLLABOARD_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Database: DatabaseConfig{
			DSN:      getEnv("COLLABOARD_DATABASE_URL", ""),
			MaxConns: dbMaxConns,
		},
		JWT: JWTConfig{
			Secret: getEnv("COLLABOARD_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			AuthRPS:   authRPS,
			AuthBurst: authBurst,
			APIRPS:    apiRPS,
			APIBurst:  apiBurst,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return errors.New("COLLABOARD_UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("COLLABOARD_UPSTREAM_URL must be an absolute http(s) URL, got %q", c.Upstream.BaseURL)
	}

	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("COLLABOARD_JWT_SECRET must be at least 32 characters")
	}

	if !c.Session.CookieSecure {
		log.Warn().Msg("COLLABOARD_COOKIE_SECURE=false sends the session cookie over plain HTTP; enable it behind TLS")
	}

	// Bounds checks.
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("COLLABOARD_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("COLLABOARD_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("COLLABOARD_UPSTREAM_TIMEOUT must be positive, got %s", c.Upstream.Timeout)
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("COLLABOARD_SESSION_MAX_AGE must be positive, got %s", c.Session.MaxAge)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("COLLABOARD_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.RateLimit.AuthRPS <= 0 {
		return fmt.Errorf("COLLABOARD_RATE_AUTH_RPS must be positive, got %g", c.RateLimit.AuthRPS)
	}
	if c.RateLimit.APIRPS <= 0 {
		return fmt.Errorf("COLLABOARD_RATE_API_RPS must be positive, got %g", c.RateLimit.APIRPS)
	}
	if c.RateLimit.AuthBurst < 1 {
		return fmt.Errorf("COLLABOARD_RATE_AUTH_BURST must be >= 1, got %d", c.RateLimit.AuthBurst)
	}
	if c.RateLimit.APIBurst < 1 {
		return fmt.Errorf("COLLABOARD_RATE_API_BURST must be >= 1, got %d", c.RateLimit.APIBurst)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
