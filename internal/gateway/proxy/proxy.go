// Package proxy forwards browser requests to the backend with the caller's
// bearer token, refreshing the token pair once on a 401 and replaying the
// request once with the new access token.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRefreshTimeout = 10 * time.Second

	// maxResponseBody bounds how much of a backend body is buffered.
	maxResponseBody = 32 << 20
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authsdk.TokenPair, error)
}

// Redirect controls how backend redirects are handled.
type Redirect int

const (
	RedirectFollow Redirect = iota
	RedirectManual
	RedirectError
)

// Init describes the outgoing request. Body is buffered so it can be sent twice.
type Init struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte

	// Cache is sent as Cache-Control; empty means "no-store".
	Cache    string
	Redirect Redirect

	// Timeout overrides Proxy.Timeout for this call.
	Timeout time.Duration
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Result is the outcome of one proxied call. RefreshedTokens is non-nil only
// when a refresh happened and succeeded; the caller must persist it even if
// Response is an error.
type Result struct {
	Response        *Response
	RefreshedTokens *authsdk.TokenPair
}

// Proxy is safe for concurrent use; it keeps no per-request state.
type Proxy struct {
	BaseURL        string
	HTTPClient     *http.Client
	Refresher      Refresher
	Cookies        *cookiex.Codec
	Timeout        time.Duration
	RefreshTimeout time.Duration
}

// New returns a Proxy with default timeouts.
func New(baseURL string, refresher Refresher, cookies *cookiex.Codec) *Proxy {
	return &Proxy{
		BaseURL:        strings.TrimSuffix(baseURL, "/"),
		HTTPClient:     &http.Client{},
		Refresher:      refresher,
		Cookies:        cookies,
		Timeout:        DefaultTimeout,
		RefreshTimeout: DefaultRefreshTimeout,
	}
}

// Do forwards init to backendPath using the tokens in r's cookies.
//
// At most one refresh and one replay happen per call. Transport failures
// become a synthetic 502 and are never retried. A failed refresh returns the
// original 401 untouched.
func (p *Proxy) Do(ctx context.Context, r *http.Request, backendPath string, init Init) *Result {
	log := slogx.FromContext(ctx).With("backend_path", backendPath)
	access, refresh := p.Cookies.Tokens(r)

	resp, err := p.send(ctx, backendPath, init, access)
	if err != nil {
		log.Warn("backend request failed", "err", err)
		return &Result{Response: badGateway(err)}
	}

	if resp.StatusCode != http.StatusUnauthorized || refresh == "" {
		return &Result{Response: resp}
	}

	pair, err := p.refresh(ctx, refresh)
	if err != nil {
		log.Info("token refresh failed, returning original 401", "err", err)
		return &Result{Response: resp}
	}
	log.Debug("token refreshed, replaying request")

	replay, err := p.send(ctx, backendPath, init, pair.AccessToken)
	if err != nil {
		log.Warn("backend replay failed", "err", err)
		replay = badGateway(err)
	}
	return &Result{Response: replay, RefreshedTokens: pair}
}

func (p *Proxy) refresh(ctx context.Context, refreshToken string) (pair *authsdk.TokenPair, err error) {
	if p.Refresher == nil {
		return nil, errors.New("no refresher configured")
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(p.RefreshTimeout, DefaultRefreshTimeout))
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			pair, err = nil, fmt.Errorf("refresh panicked: %v", rec)
		}
	}()

	pair, err = p.Refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	return pair, nil
}

// send performs one round trip and buffers the whole body, so a timeout
// while reading counts as a transport failure too.
func (p *Proxy) send(ctx context.Context, backendPath string, init Init, accessToken string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(init.Timeout, orDefault(p.Timeout, DefaultTimeout)))
	defer cancel()

	req, err := p.build(ctx, backendPath, init, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := p.client(init.Redirect).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read backend body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		StatusText: reasonPhrase(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (p *Proxy) build(ctx context.Context, backendPath string, init Init, accessToken string) (*http.Request, error) {
	target := p.BaseURL + "/" + strings.TrimPrefix(backendPath, "/")
	if len(init.Query) > 0 {
		target += "?" + init.Query.Encode()
	}

	method := init.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if init.Body != nil {
		body = bytes.NewReader(init.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}

	if init.Header != nil {
		req.Header = init.Header.Clone()
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	cacheMode := init.Cache
	if cacheMode == "" {
		cacheMode = "no-store"
	}
	req.Header.Set("Cache-Control", cacheMode)

	return req, nil
}

func (p *Proxy) client(mode Redirect) *http.Client {
	base := p.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if mode == RedirectFollow {
		return base
	}

	c := *base
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if mode == RedirectManual {
			return http.ErrUseLastResponse
		}
		return fmt.Errorf("redirect to %s not allowed", req.URL.Redacted())
	}
	return &c
}

// badGateway is the synthetic response for an unreachable backend.
// The message drops the backend URL that net/http prefixes to transport errors.
func badGateway(err error) *Response {
	msg := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) {
		msg = uerr.Err.Error()
	}

	body, _ := json.Marshal(map[string]string{"error": msg})
	return &Response{
		StatusCode: http.StatusBadGateway,
		StatusText: http.StatusText(http.StatusBadGateway),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       body,
	}
}

// reasonPhrase extracts "Not Found" from a "404 Not Found" status line.
func reasonPhrase(resp *http.Response) string {
	_, text, ok := strings.Cut(resp.Status, " ")
	if ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
