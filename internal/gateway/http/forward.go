package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/internal/gateway/payload"
	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/httpx"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
)

const (
	defaultMaxBody       = 10 << 20
	defaultFallbackError = "Failed to reach backend"
)

// forwardedHeaders are copied from the browser request to the backend.
var forwardedHeaders = []string{"Content-Type", "Accept", "Accept-Language"}

// CachePolicy enables the response cache for a GET endpoint. Tags may use
// {name} placeholders filled from the request's path values.
type CachePolicy struct {
	Tags []string
	TTL  time.Duration
}

// Endpoint describes one proxied route.
type Endpoint struct {
	// Method and Pattern form the mux pattern; an empty Method matches all.
	Method  string
	Pattern string

	// Backend maps the request to a backend path. See Path.
	Backend func(r *http.Request) string

	// Tags are invalidated after a successful response. Target tags may use
	// {name} placeholders like CachePolicy.Tags.
	Tags cache.Tags

	Cache *CachePolicy

	// FallbackError is the 502 message if forwarding fails unexpectedly.
	FallbackError string

	ForwardQuery bool
	MaxBody      int64
	Timeout      time.Duration
}

// ForwardHandler serves one Endpoint through the authenticated proxy.
type ForwardHandler struct {
	Endpoint   Endpoint
	Proxy      *proxy.Proxy
	Cookies    *cookiex.Codec
	Dispatcher *cache.Dispatcher

	// Store serves and fills Endpoint.Cache; nil disables response caching.
	Store    cache.Store
	CacheTTL time.Duration
}

// reply is rendered only after the whole pipeline has finished, so cookies
// and body are written together.
type reply struct {
	status      int
	contentType string
	body        []byte
	tokens      *authsdk.TokenPair
	cacheStatus string
}

func (h *ForwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := slogx.With(r.Context(), "route", h.Endpoint.Pattern)
	if access, _ := h.Cookies.Tokens(r); access != "" {
		if sub := httpx.AccessTokenSubject(access); sub != "" {
			// unverified; for correlating log lines only
			ctx = slogx.With(ctx, "token_sub", sub)
		}
	}
	r = r.WithContext(ctx)
	log := slogx.FromContext(ctx)

	rep, err := h.handle(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}

		log.Error("forwarding failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, h.fallbackError())
		return
	}

	rep.write(w, h.Cookies)
}

func (h *ForwardHandler) handle(w http.ResponseWriter, r *http.Request) (rep *reply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rep, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()

	ctx := r.Context()
	log := slogx.FromContext(ctx)
	backendPath := h.backendPath(r)

	cached := h.cacheable(r)
	if cached {
		access, _ := h.Cookies.Tokens(r)
		e, err := h.Store.Get(ctx, cache.Key(access, r.Method, backendPath, r.URL.RawQuery))
		switch {
		case err == nil:
			return &reply{status: e.StatusCode, contentType: e.ContentType, body: e.Body, cacheStatus: "HIT"}, nil
		case !errors.Is(err, cache.ErrMiss):
			log.Warn("cache read failed", "error", err)
		}
	}

	init, err := h.buildInit(w, r)
	if err != nil {
		return nil, err
	}

	res := h.Proxy.Do(ctx, r, backendPath, init)
	resp := res.Response
	p := payload.Parse(resp)

	if !resp.OK() {
		body, err := json.Marshal(payload.NormalizeError(p, resp.StatusCode, resp.StatusText))
		if err != nil {
			return nil, err
		}
		return &reply{status: resp.StatusCode, contentType: httpx.ContentTypeJSON, body: body, tokens: res.RefreshedTokens}, nil
	}

	if h.Dispatcher != nil && h.Endpoint.Tags != nil {
		if err := h.Dispatcher.Invalidate(ctx, p, expandTargets(r, h.Endpoint.Tags)); err != nil {
			log.Warn("cache invalidation failed", "error", err)
		}
	}

	rep = &reply{status: resp.StatusCode, tokens: res.RefreshedTokens}
	if resp.StatusCode == http.StatusNoContent || p == nil {
		return rep, nil
	}

	rep.contentType = httpx.ContentTypeJSON
	if rep.body, err = json.Marshal(p); err != nil {
		return nil, err
	}

	if cached && resp.StatusCode == http.StatusOK {
		rep.cacheStatus = "MISS"
		h.store(r, backendPath, rep)
	}
	return rep, nil
}

// store keys the entry by the credential the browser will send next time,
// which is the refreshed one if a refresh happened.
func (h *ForwardHandler) store(r *http.Request, backendPath string, rep *reply) {
	access, _ := h.Cookies.Tokens(r)
	if rep.tokens != nil {
		access = rep.tokens.AccessToken
	}

	ttl := h.Endpoint.Cache.TTL
	if ttl <= 0 {
		ttl = h.CacheTTL
	}

	e := cache.Entry{
		StatusCode:  rep.status,
		ContentType: rep.contentType,
		Body:        rep.body,
		StoredAt:    time.Now().UTC(),
	}
	tags := expand(r, h.Endpoint.Cache.Tags)
	if session := cache.SessionTag(access); session != "" {
		tags = append(tags, session)
	}
	key := cache.Key(access, r.Method, backendPath, r.URL.RawQuery)
	if err := h.Store.Set(r.Context(), key, e, tags, ttl); err != nil {
		slogx.FromContext(r.Context()).Warn("cache write failed", "error", err)
	}
}

func (h *ForwardHandler) cacheable(r *http.Request) bool {
	return h.Store != nil && h.Endpoint.Cache != nil && r.Method == http.MethodGet
}

func (h *ForwardHandler) backendPath(r *http.Request) string {
	if h.Endpoint.Backend != nil {
		return h.Endpoint.Backend(r)
	}
	return strings.TrimPrefix(r.URL.Path, "/api")
}

func (h *ForwardHandler) buildInit(w http.ResponseWriter, r *http.Request) (proxy.Init, error) {
	init := proxy.Init{
		Method:  r.Method,
		Header:  http.Header{},
		Timeout: h.Endpoint.Timeout,
	}
	if h.Endpoint.Method != "" {
		init.Method = h.Endpoint.Method
	}

	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			init.Header.Set(name, v)
		}
	}
	if id := w.Header().Get(slogx.HeaderRequestID); id != "" {
		init.Header.Set(slogx.HeaderRequestID, id)
	}

	if h.Endpoint.ForwardQuery {
		init.Query = r.URL.Query()
	}

	if r.Body != nil && r.Body != http.NoBody && r.Method != http.MethodGet && r.Method != http.MethodHead {
		maxBody := h.Endpoint.MaxBody
		if maxBody <= 0 {
			maxBody = defaultMaxBody
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			return proxy.Init{}, fmt.Errorf("read request body: %w", err)
		}
		init.Body = body
	}
	return init, nil
}

func (h *ForwardHandler) fallbackError() string {
	if h.Endpoint.FallbackError != "" {
		return h.Endpoint.FallbackError
	}
	return defaultFallbackError
}

func (rep *reply) write(w http.ResponseWriter, cookies *cookiex.Codec) {
	if rep.tokens != nil {
		cookies.WriteTokens(w, rep.tokens)
	}
	if rep.cacheStatus != "" {
		w.Header().Set("X-Cache", rep.cacheStatus)
	}

	if rep.body == nil {
		httpx.WriteEmpty(w, rep.status)
		return
	}

	httpx.NoCache(w)
	w.Header().Set(httpx.HeaderContentType, rep.contentType)
	w.WriteHeader(rep.status)
	_, _ = w.Write(rep.body)
}

// Path returns a Backend func that fills {name} and {name...} segments of
// template from the request's path values, escaping each segment.
func Path(template string) func(r *http.Request) string {
	return func(r *http.Request) string {
		return expandPath(r, template)
	}
}

func expandPath(r *http.Request, template string) string {
	segments := strings.Split(template, "/")
	for i, seg := range segments {
		name, ok := placeholder(seg)
		if !ok {
			continue
		}

		if rest, wildcard := strings.CutSuffix(name, "..."); wildcard {
			parts := strings.Split(r.PathValue(rest), "/")
			for j, p := range parts {
				parts[j] = url.PathEscape(p)
			}
			segments[i] = strings.Join(parts, "/")
			continue
		}
		segments[i] = url.PathEscape(r.PathValue(name))
	}
	return strings.Join(segments, "/")
}

// expand fills {name} placeholders in tags. A tag whose value is missing
// expands to "" and is skipped by the dispatcher.
func expand(r *http.Request, tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := expandTag(r, tag); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func expandTag(r *http.Request, tag string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tag, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(tag[start:], '}')
		if end < 0 {
			break
		}
		value := r.PathValue(tag[start+1 : start+end])
		if value == "" {
			return ""
		}
		b.WriteString(tag[:start])
		b.WriteString(value)
		tag = tag[start+end+1:]
	}
	b.WriteString(tag)
	return b.String()
}

func expandTargets(r *http.Request, tags cache.Tags) cache.Tags {
	return cache.TagsFunc(func(p any) []cache.Target {
		targets := tags.Resolve(p)
		out := make([]cache.Target, 0, len(targets))
		for _, t := range targets {
			t.Tag = expandTag(r, t.Tag)
			out = append(out, t)
		}
		return out
	})
}

func placeholder(seg string) (string, bool) {
	if len(seg) < 3 || seg[0] != '{' || seg[len(seg)-1] != '}' {
		return "", false
	}
	return seg[1 : len(seg)-1], true
}
