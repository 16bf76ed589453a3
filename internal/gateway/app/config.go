package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
)

const (
	CacheDriverNone   = "none"
	CacheDriverMemory = "memory"
	CacheDriverSQLite = "sqlite"
	CacheDriverRedis  = "redis"
)

type Config struct {
	BackendURL string // Backend base URL (default: http://localhost:8000)

	Env                 string        // Environment (dev, staging, prod); cookies are Secure only in prod (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	UpstreamTimeout time.Duration // Per-call backend timeout (default: 30s)
	RefreshTimeout  time.Duration // Token refresh timeout (default: 10s)

	AccessTokenCookie   string        // default: access-token
	RefreshTokenCookie  string        // default: refresh-token
	RefreshCookieMaxAge time.Duration // default: 30 days

	CacheDriver          string        // none, memory, sqlite, redis (default: memory)
	CacheDatabaseFile    string        // SQLite file for the sqlite driver (default: gateway-cache.db)
	RedisAddr            string        // Redis address for the redis driver (default: localhost:6379)
	CacheTTL             time.Duration // Default TTL of cached responses (default: 30s)
	CacheMaxStale        time.Duration // How long "max" invalidations may still serve an entry (default: 5s)
	HousekeepingInterval time.Duration // Cache purge interval (default: 10m)

	NatsURL string // Optional: enables cross-replica invalidation
}

func LoadConfig() Config {
	return Config{
		BackendURL:          strings.TrimSuffix(getEnvOrDefault("BACKEND_URL", "http://localhost:8000"), "/"),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		UpstreamTimeout: getEnvDurationOrDefault("UPSTREAM_TIMEOUT", proxy.DefaultTimeout),
		RefreshTimeout:  getEnvDurationOrDefault("REFRESH_TIMEOUT", proxy.DefaultRefreshTimeout),

		AccessTokenCookie:   getEnvOrDefault("ACCESS_TOKEN_COOKIE", cookiex.DefaultAccessName),
		RefreshTokenCookie:  getEnvOrDefault("REFRESH_TOKEN_COOKIE", cookiex.DefaultRefreshName),
		RefreshCookieMaxAge: getEnvDurationOrDefault("REFRESH_COOKIE_MAX_AGE", cookiex.DefaultRefreshMaxAge),

		CacheDriver:          strings.ToLower(getEnvOrDefault("CACHE_DRIVER", CacheDriverMemory)),
		CacheDatabaseFile:    getEnvOrDefault("CACHE_DATABASE_FILE", "gateway-cache.db"),
		RedisAddr:            getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		CacheTTL:             getEnvDurationOrDefault("CACHE_TTL", 30*time.Second),
		CacheMaxStale:        getEnvDurationOrDefault("CACHE_MAX_STALE", cache.DefaultMaxStale),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 10*time.Minute),

		NatsURL: os.Getenv("NATS_URL"),
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL))
	}

	switch c.CacheDriver {
	case CacheDriverNone, CacheDriverMemory, CacheDriverSQLite, CacheDriverRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver))
	}

	if c.AccessTokenCookie == "" || c.AccessTokenCookie == c.RefreshTokenCookie {
		errs = append(errs, errors.New("ACCESS_TOKEN_COOKIE and REFRESH_TOKEN_COOKIE must be distinct and non-empty"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}

	return errors.Join(errs...)
}

// SecureCookies reports whether cookies carry the Secure attribute.
func (c Config) SecureCookies() bool {
	return c.Env == "prod" || c.Env == "production"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// "1h", "30m", "90s"
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
