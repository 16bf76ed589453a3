package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/httpx"
	"github.com/aussiebroadwan/gateway/pkg/slogx"

	_ "github.com/aussiebroadwan/gateway/api/gateway" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Proxy      *proxy.Proxy
	Auth       AuthClient
	Cookies    *cookiex.Codec
	Dispatcher *cache.Dispatcher

	// Store is the response cache; nil disables caching and the readyz check.
	Store    cache.Store
	CacheTTL time.Duration

	// Endpoints defaults to Routes().
	Endpoints []Endpoint
}

func NewRouter(buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	if r.Endpoints == nil {
		r.Endpoints = Routes()
	}

	r.registerAuth()
	r.registerProxied()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			BarTab Gateway API
//	@version		0.1.0
//	@description	Backend-for-frontend gateway. Browser sessions are carried in an access-token cookie
//	@description	and an HTTP-only refresh-token cookie; every /api route forwards to the backend with
//	@description	the access token as a bearer credential and refreshes the pair once on a 401.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/gateway
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http https
//
//	@securityDefinitions.apikey	CookieAuth
//	@in							cookie
//	@name						access-token
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	// POST /login - strict, keyed by IP and username to slow credential stuffing
	r.Mux.Handle("POST /api/auth/login",
		httpx.Chain(&LoginHandler{Auth: r.Auth, Cookies: r.Cookies},
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "username"),
		),
	)

	r.Mux.Handle("POST /api/auth/refresh",
		httpx.Chain(&RefreshHandler{Auth: r.Auth, Cookies: r.Cookies},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /api/auth/logout",
		httpx.Chain(&LogoutHandler{Auth: r.Auth, Cookies: r.Cookies, Store: r.Store},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerProxied() {
	for _, ep := range r.Endpoints {
		h := &ForwardHandler{
			Endpoint:   ep,
			Proxy:      r.Proxy,
			Cookies:    r.Cookies,
			Dispatcher: r.Dispatcher,
			Store:      r.Store,
			CacheTTL:   r.CacheTTL,
		}

		// Reads fan out from dashboards, so they get the lenient profile.
		limit := httpx.ModerateLimit
		if ep.Method == http.MethodGet {
			limit = httpx.LenientLimit
		}

		pattern := ep.Pattern
		if ep.Method != "" {
			pattern = ep.Method + " " + ep.Pattern
		}

		// Keyed by client IP only; token claims are unverified at this point.
		r.Mux.Handle(pattern,
			httpx.Chain(h,
				httpx.RateLimitByIP(limit),
			),
		)
	}
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Store),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}
