package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/internal/gateway/cache/drivers/memory"
	gwhttp "github.com/aussiebroadwan/gateway/internal/gateway/http"
	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
	"github.com/stretchr/testify/require"
)

var rotatedPair = &authsdk.TokenPair{
	AccessToken:  "new-access",
	RefreshToken: "new-refresh",
	ExpiresIn:    900,
	TokenType:    "bearer",
}

// fakeAuth stands in for the backend's /auth endpoints.
type fakeAuth struct {
	refreshCalls atomic.Int32
	refreshPair  *authsdk.TokenPair
	refreshErr   error

	loginPair *authsdk.TokenPair
	loginErr  error
	loginBody json.RawMessage

	logoutErr   error
	loggedOut   []string
	logoutCalls atomic.Int32
}

func (f *fakeAuth) Login(_ context.Context, credentials json.RawMessage) (*authsdk.TokenPair, error) {
	f.loginBody = credentials
	return f.loginPair, f.loginErr
}

func (f *fakeAuth) Refresh(_ context.Context, token string) (*authsdk.TokenPair, error) {
	f.refreshCalls.Add(1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshPair, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.logoutCalls.Add(1)
	f.loggedOut = append(f.loggedOut, token)
	return f.logoutErr
}

type gateway struct {
	router *gwhttp.Router
	store  *memory.Store
	auth   *fakeAuth
}

// newGateway wires a router against backendURL with test endpoints.
func newGateway(t *testing.T, backendURL string, auth *fakeAuth, endpoints []gwhttp.Endpoint) *gateway {
	t.Helper()

	if auth == nil {
		auth = &fakeAuth{refreshPair: rotatedPair}
	}
	cookies := cookiex.NewCodec(false)
	store := memory.NewStore()

	r := gwhttp.NewRouter("test", slogx.Discard())
	r.Proxy = proxy.New(backendURL, auth, cookies)
	r.Proxy.Timeout = 2 * time.Second
	r.Auth = auth
	r.Cookies = cookies
	r.Store = store
	r.Dispatcher = cache.NewDispatcher(store, nil, time.Second)
	r.CacheTTL = time.Minute
	r.Endpoints = endpoints
	r.ApplyRoutes()

	return &gateway{router: r, store: store, auth: auth}
}

func (g *gateway) do(method, target, cookie, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

// backend is a scripted upstream that answers calls in order and repeats
// the last answer once the script runs out.
type backend struct {
	*httptest.Server
	calls atomic.Int32
}

type answer struct {
	status      int
	contentType string
	body        string
}

func newBackend(t *testing.T, script ...answer) *backend {
	t.Helper()

	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(b.calls.Add(1))
		a := script[min(n, len(script))-1]
		if a.contentType != "" {
			w.Header().Set("Content-Type", a.contentType)
		}
		w.WriteHeader(a.status)
		_, _ = w.Write([]byte(a.body))
	}))
	t.Cleanup(b.Close)
	return b
}

func jsonAnswer(status int, body string) answer {
	return answer{status: status, contentType: "application/json", body: body}
}

func requireNoCookies(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Empty(t, rec.Header().Values("Set-Cookie"))
}

func requireRotatedCookies(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()

	require.Len(t, rec.Header().Values("Set-Cookie"), 2)
	c := cookiesByName(rec)
	require.Equal(t, "new-access", c["access-token"].Value)
	require.False(t, c["access-token"].HttpOnly)
	require.Equal(t, 900, c["access-token"].MaxAge)
	require.Equal(t, "new-refresh", c["refresh-token"].Value)
	require.True(t, c["refresh-token"].HttpOnly)
	require.Equal(t, 30*24*60*60, c["refresh-token"].MaxAge)
}
