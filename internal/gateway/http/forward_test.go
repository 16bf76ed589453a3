package http_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	gwhttp "github.com/aussiebroadwan/gateway/internal/gateway/http"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func thingEndpoints() []gwhttp.Endpoint {
	return []gwhttp.Endpoint{
		{Method: http.MethodGet, Pattern: "/api/things", Backend: gwhttp.Path("/things"), ForwardQuery: true},
		{
			Method: http.MethodPost, Pattern: "/api/things", Backend: gwhttp.Path("/things"),
			Tags: cache.StaticTags{{Tag: "things", Strategy: cache.StrategyImmediate}},
		},
		{
			Method: http.MethodDelete, Pattern: "/api/things/{id}", Backend: gwhttp.Path("/things/{id}"),
			Tags: cache.StaticTags{{Tag: "thing:{id}", Strategy: cache.StrategyImmediate}},
		},
		{
			Method: http.MethodGet, Pattern: "/api/cached/{id}", Backend: gwhttp.Path("/cached/{id}"),
			Cache: &gwhttp.CachePolicy{Tags: []string{"things", "thing:{id}"}},
		},
		{
			Method: http.MethodGet, Pattern: "/api/broken",
			Backend:       func(*http.Request) string { panic("boom") },
			FallbackError: "Failed to load broken thing",
		},
		{Method: http.MethodPost, Pattern: "/api/small", Backend: gwhttp.Path("/small"), MaxBody: 8},
	}
}

const bothCookies = "access-token=abc; refresh-token=xyz"

func TestPassThroughWithoutCookies(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusOK, `{"id":1}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":1}`, rec.Body.String())
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	requireNoCookies(t, rec)
	require.Zero(t, g.auth.refreshCalls.Load())
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	b := newBackend(t, answer{status: http.StatusUnauthorized})
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", "access-token=abc", "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	requireNoCookies(t, rec)
	require.Zero(t, g.auth.refreshCalls.Load())
	require.EqualValues(t, 1, b.calls.Load())
}

func TestRefreshThenReplaySetsCookies(t *testing.T) {
	t.Parallel()

	b := newBackend(t,
		answer{status: http.StatusUnauthorized},
		jsonAnswer(http.StatusOK, `{"ok":true}`),
	)
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.EqualValues(t, 1, g.auth.refreshCalls.Load())
	requireRotatedCookies(t, rec)
}

func TestReplayFailureStillSetsCookies(t *testing.T) {
	t.Parallel()

	b := newBackend(t,
		answer{status: http.StatusUnauthorized},
		jsonAnswer(http.StatusInternalServerError, `{"detail":"server error"}`),
	)
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"server error"}`, rec.Body.String())
	requireRotatedCookies(t, rec)
}

func TestBackendAlwaysUnauthorized(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusUnauthorized, `{"detail":"Invalid token"}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"Invalid token"}`, rec.Body.String())
	require.EqualValues(t, 1, g.auth.refreshCalls.Load())
	require.EqualValues(t, 2, b.calls.Load())
	requireRotatedCookies(t, rec)
}

func TestFailedRefreshLeavesCookiesAlone(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusUnauthorized, `{"detail":"expired"}`))
	g := newGateway(t, b.URL, &fakeAuth{refreshErr: errors.New("rejected")}, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"expired"}`, rec.Body.String())
	requireNoCookies(t, rec)
	require.EqualValues(t, 1, b.calls.Load())
}

func TestUnreachableBackend(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	g := newGateway(t, url, nil, thingEndpoints())
	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), `"error"`)
	require.Contains(t, rec.Body.String(), "refused")
	requireNoCookies(t, rec)
	require.Zero(t, g.auth.refreshCalls.Load())
}

func TestNoContentStillInvalidates(t *testing.T) {
	t.Parallel()

	b := newBackend(t, answer{status: http.StatusNoContent})
	g := newGateway(t, b.URL, nil, thingEndpoints())

	ctx := t.Context()
	require.NoError(t, g.store.Set(ctx, "list", cache.Entry{StatusCode: 200}, []string{"things"}, time.Hour))

	rec := g.do(http.MethodPost, "/api/things", bothCookies, `{"name":"x"}`)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.Zero(t, g.store.Len())
}

func TestFailedMutationNeverInvalidates(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusConflict, `{"error":"exists"}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	ctx := t.Context()
	require.NoError(t, g.store.Set(ctx, "list", cache.Entry{StatusCode: 200}, []string{"things"}, time.Hour))

	rec := g.do(http.MethodPost, "/api/things", bothCookies, `{"name":"x"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":"exists"}`, rec.Body.String())
	require.Equal(t, 1, g.store.Len())
}

func TestPathTagsAreExpanded(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusOK, `{"deleted":true}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	ctx := t.Context()
	require.NoError(t, g.store.Set(ctx, "seven", cache.Entry{StatusCode: 200}, []string{"thing:7"}, time.Hour))
	require.NoError(t, g.store.Set(ctx, "eight", cache.Entry{StatusCode: 200}, []string{"thing:8"}, time.Hour))

	rec := g.do(http.MethodDelete, "/api/things/7", bothCookies, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := g.store.Get(ctx, "seven")
	require.ErrorIs(t, err, cache.ErrMiss)
	_, err = g.store.Get(ctx, "eight")
	require.NoError(t, err)
}

func TestEmptySuccessBody(t *testing.T) {
	t.Parallel()

	b := newBackend(t, answer{status: http.StatusAccepted, contentType: "text/plain"})
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestTextErrorIsNormalized(t *testing.T) {
	t.Parallel()

	b := newBackend(t, answer{status: http.StatusBadGateway, contentType: "text/html", body: " upstream timed out "})
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things", bothCookies, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"error":"upstream timed out"}`, rec.Body.String())
}

func TestPanicBecomesFallback502(t *testing.T) {
	t.Parallel()

	g := newGateway(t, "http://127.0.0.1:1", nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/broken", bothCookies, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"error":"Failed to load broken thing"}`, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestOversizedBody(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusOK, `{}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodPost, "/api/small", bothCookies, `{"far":"too large"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Zero(t, b.calls.Load())
}

func TestRequestForwarding(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen *http.Request
		body string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen, body = r.Clone(r.Context()), string(raw)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":5}`))
	}))
	defer upstream.Close()

	g := newGateway(t, upstream.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/things?page=2&q=a+b", bothCookies, "")
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	require.Equal(t, "/things", seen.URL.Path)
	require.Equal(t, "2", seen.URL.Query().Get("page"))
	require.Equal(t, "a b", seen.URL.Query().Get("q"))
	require.Equal(t, "Bearer abc", seen.Header.Get("Authorization"))
	require.Equal(t, "no-store", seen.Header.Get("Cache-Control"))
	require.NotEmpty(t, seen.Header.Get("X-Request-ID"))
	require.Empty(t, seen.Header.Get("Cookie"), "browser cookies are not forwarded")
	mu.Unlock()

	rec = g.do(http.MethodPost, "/api/things", bothCookies, `{"name":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPost, seen.Method)
	require.Equal(t, "application/json", seen.Header.Get("Content-Type"))
	require.JSONEq(t, `{"name":"x"}`, body)
}

func TestCachedReads(t *testing.T) {
	t.Parallel()

	b := newBackend(t, jsonAnswer(http.StatusOK, `{"id":3}`))
	g := newGateway(t, b.URL, nil, thingEndpoints())

	first := g.do(http.MethodGet, "/api/cached/3", bothCookies, "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := g.do(http.MethodGet, "/api/cached/3", bothCookies, "")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "HIT", second.Header().Get("X-Cache"))
	require.JSONEq(t, `{"id":3}`, second.Body.String())
	require.EqualValues(t, 1, b.calls.Load())

	other := g.do(http.MethodGet, "/api/cached/3", "access-token=someone-else", "")
	require.Equal(t, "MISS", other.Header().Get("X-Cache"), "entries are per credential")
	require.EqualValues(t, 2, b.calls.Load())

	// A mutation tagged with the same resource evicts it.
	require.Equal(t, http.StatusOK, g.do(http.MethodDelete, "/api/things/3", bothCookies, "").Code)
	third := g.do(http.MethodGet, "/api/cached/3", bothCookies, "")
	require.Equal(t, "MISS", third.Header().Get("X-Cache"))
}

func TestCacheFollowsRefreshedCredential(t *testing.T) {
	t.Parallel()

	b := newBackend(t,
		answer{status: http.StatusUnauthorized},
		jsonAnswer(http.StatusOK, `{"id":9}`),
	)
	g := newGateway(t, b.URL, nil, thingEndpoints())

	rec := g.do(http.MethodGet, "/api/cached/9", "access-token=stale; refresh-token=xyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	requireRotatedCookies(t, rec)

	hit := g.do(http.MethodGet, "/api/cached/9", "access-token=new-access; refresh-token=new-refresh", "")
	require.Equal(t, "HIT", hit.Header().Get("X-Cache"))
}

func TestErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	b := newBackend(t,
		jsonAnswer(http.StatusServiceUnavailable, `{"error":"busy"}`),
		jsonAnswer(http.StatusOK, `{"id":1}`),
	)
	g := newGateway(t, b.URL, nil, thingEndpoints())

	require.Equal(t, http.StatusServiceUnavailable, g.do(http.MethodGet, "/api/cached/1", "access-token=abc", "").Code)
	rec := g.do(http.MethodGet, "/api/cached/1", "access-token=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
}

func TestPathEscapesValues(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var got []string
	mux.HandleFunc("/api/x/{id}/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		got = append(got, gwhttp.Path("/items/{id}/sub/{rest...}")(r))
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/x/a%20b/c/d", nil))
	require.Equal(t, []string{"/items/a%20b/sub/c/d"}, got)
	require.True(t, strings.HasPrefix(got[0], "/items/"))
}

func TestForwardLogsCarryRouteAndTokenSubject(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := &gwhttp.ForwardHandler{
		Endpoint: gwhttp.Endpoint{
			Method: http.MethodGet, Pattern: "/api/broken",
			Backend: func(*http.Request) string { panic("boom") },
		},
		Cookies: cookiex.NewCodec(false),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-42"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/broken", nil)
	req.Header.Set("Cookie", "access-token="+token)
	req = req.WithContext(slogx.WithContext(req.Context(), logger))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "forwarding failed", line["msg"])
	require.Equal(t, "/api/broken", line["route"])
	require.Equal(t, "user-42", line["token_sub"])
}
