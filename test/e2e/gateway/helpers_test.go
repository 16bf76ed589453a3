package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/app"
	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common helpers for gateway end-to-end tests. The gateway runs in-process
 * against a scripted backend; the redis driver runs against a container.
 */

const (
	testUsername = "alice"
	testPassword = "Secret123!"
)

// backend is a scripted stand-in for the API the gateway fronts. Access
// tokens can be expired and refresh tokens revoked on demand.
type backend struct {
	*httptest.Server

	mu         sync.Mutex
	generation int
	access     string
	refresh    string
	chats      []map[string]any
	loggedOut  []string

	listCalls    atomic.Int32
	refreshCalls atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("POST /auth/refresh", b.rotate)
	mux.HandleFunc("POST /auth/logout", b.logout)
	mux.HandleFunc("GET /chats", b.authorized(b.listChats))
	mux.HandleFunc("POST /chats", b.authorized(b.createChat))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *backend) issue() authsdk.TokenPair {
	b.generation++
	b.access = fmt.Sprintf("access-%d", b.generation)
	b.refresh = fmt.Sprintf("refresh-%d", b.generation)
	return authsdk.TokenPair{AccessToken: b.access, RefreshToken: b.refresh, ExpiresIn: 900, TokenType: "bearer"}
}

// expireAccess invalidates the current access token but keeps the refresh token.
func (b *backend) expireAccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = "expired"
}

// revoke invalidates both tokens.
func (b *backend) revoke() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = "revoked"
	b.refresh = "revoked"
}

func (b *backend) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username != testUsername || creds.Password != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}

	b.mu.Lock()
	pair := b.issue()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, pair)
}

func (b *backend) rotate(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	var req authsdk.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	defer b.mu.Unlock()
	if req.RefreshToken == "" || req.RefreshToken != b.refresh {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid refresh token"})
		return
	}
	writeJSON(w, http.StatusOK, b.issue())
}

func (b *backend) logout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	b.loggedOut = append(b.loggedOut, req.RefreshToken)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *backend) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+b.access
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
			return
		}
		next(w, r)
	}
}

func (b *backend) listChats(w http.ResponseWriter, _ *http.Request) {
	b.listCalls.Add(1)

	b.mu.Lock()
	chats := append([]map[string]any{}, b.chats...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, chats)
}

func (b *backend) createChat(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
		return
	}

	b.mu.Lock()
	chat := map[string]any{"id": fmt.Sprintf("chat-%d", len(b.chats)+1), "title": body["title"]}
	b.chats = append(b.chats, chat)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, chat)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// gateway is a running gateway plus a browser-like client with a cookie jar.
type gateway struct {
	URL    *url.URL
	client *http.Client
}

func setupGateway(t *testing.T, backendURL string, mutate func(cfg *app.Config)) *gateway {
	t.Helper()

	cfg := app.Config{
		BackendURL:          backendURL,
		Env:                 "test",
		LogLevel:            "error",
		LogFormat:           "json",
		Port:                8080,
		ShutdownGracePeriod: time.Second,
		UpstreamTimeout:     5 * time.Second,
		RefreshTimeout:      5 * time.Second,
		AccessTokenCookie:   "access-token",
		RefreshTokenCookie:  "refresh-token",
		RefreshCookieMaxAge: time.Hour,
		CacheDriver:         app.CacheDriverMemory,
		CacheDatabaseFile:   filepath.Join(t.TempDir(), "cache.db"),
		CacheTTL:            time.Minute,
		CacheMaxStale:       50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	application, err := app.New(cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := application.Shutdown(); err != nil {
			t.Logf("failed to shut down gateway: %v", err)
		}
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	return &gateway{URL: u, client: &http.Client{Jar: jar}}
}

func (g *gateway) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, g.URL.String()+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (g *gateway) login(t *testing.T) {
	t.Helper()
	resp, body := g.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func (g *gateway) cookie(name string) string {
	for _, c := range g.client.Jar.Cookies(g.URL) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

// drivers returns the config mutation for each cache driver under test.
func drivers() map[string]func(t *testing.T, cfg *app.Config) {
	return map[string]func(t *testing.T, cfg *app.Config){
		app.CacheDriverMemory: func(_ *testing.T, cfg *app.Config) { cfg.CacheDriver = app.CacheDriverMemory },
		app.CacheDriverSQLite: func(_ *testing.T, cfg *app.Config) { cfg.CacheDriver = app.CacheDriverSQLite },
		app.CacheDriverRedis: func(t *testing.T, cfg *app.Config) {
			cfg.CacheDriver = app.CacheDriverRedis
			cfg.RedisAddr = setupRedis(t)
		},
	}
}
