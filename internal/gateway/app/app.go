package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/internal/gateway/cache/drivers/memory"
	cacheredis "github.com/aussiebroadwan/gateway/internal/gateway/cache/drivers/redis"
	"github.com/aussiebroadwan/gateway/internal/gateway/cache/drivers/sqlite"
	"github.com/aussiebroadwan/gateway/internal/gateway/cache/natsbus"
	httpapi "github.com/aussiebroadwan/gateway/internal/gateway/http"
	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/idx"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the gateway's dependencies and owns their lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger

	store        cache.Store // nil when CACHE_DRIVER=none
	housekeeper  *cache.Housekeeper
	housekeeping bool
	nc           *nats.Conn
	bus          *natsbus.Bus
	dispatcher   *cache.Dispatcher

	auth    *authsdk.SDKClient
	cookies *cookiex.Codec
	proxy   *proxy.Proxy

	server *http.Server
	router *httpapi.Router
}

// New builds an Application. It fails fast on invalid configuration or an
// unreachable cache backend.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initCache(); err != nil {
		return nil, err
	}
	if err := app.initBus(); err != nil {
		app.closeCache()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler exposes the router, mainly for tests.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	if app.housekeeper != nil {
		app.housekeeper.Start()
		app.housekeeping = true
	}

	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"backend", app.cfg.BackendURL,
		"cache_driver", app.cfg.CacheDriver,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, then stops background work and closes
// the cache and bus connections.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeeping {
		app.housekeeper.Stop()
	}

	if app.bus != nil {
		if err := app.bus.Close(); err != nil {
			app.logger.Error("error closing invalidation bus", "error", err)
		}
	}
	if app.nc != nil {
		if err := app.nc.Drain(); err != nil {
			app.logger.Error("error draining nats connection", "error", err)
		}
	}

	if err := app.closeCache(); err != nil {
		return err
	}

	app.logger.Info("gateway stopped")
	return nil
}

func (app *Application) initCache() error {
	switch app.cfg.CacheDriver {
	case CacheDriverNone:
		app.logger.Info("response cache disabled")
		return nil

	case CacheDriverMemory:
		app.store = memory.NewStore()

	case CacheDriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", app.cfg.CacheDatabaseFile)
		st, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to open cache database: %w", err)
		}
		if err := st.ApplyMigrations(); err != nil {
			_ = st.Close()
			return fmt.Errorf("failed to apply cache migrations: %w", err)
		}
		app.logger.Info("cache migrations applied successfully")
		app.store = st

	case CacheDriverRedis:
		client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.store = cacheredis.NewStore(client, cacheredis.DefaultPrefix)
	}

	app.housekeeper = cache.NewHousekeeper(app.store, app.logger, app.cfg.HousekeepingInterval)
	return nil
}

func (app *Application) initBus() error {
	if app.cfg.NatsURL == "" {
		return nil
	}

	nc, err := nats.Connect(app.cfg.NatsURL, nats.Name("gateway"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	app.nc = nc
	app.bus = natsbus.New(nc, natsbus.DefaultSubject, idx.New().String(), app.logger)
	return nil
}

func (app *Application) initServices() {
	app.cookies = &cookiex.Codec{
		AccessName:    app.cfg.AccessTokenCookie,
		RefreshName:   app.cfg.RefreshTokenCookie,
		RefreshMaxAge: app.cfg.RefreshCookieMaxAge,
		Secure:        app.cfg.SecureCookies(),
	}

	app.auth = authsdk.NewSDKClient(app.cfg.BackendURL)
	app.auth.HTTPClient.Timeout = app.cfg.RefreshTimeout

	app.proxy = proxy.New(app.cfg.BackendURL, app.auth, app.cookies)
	app.proxy.Timeout = app.cfg.UpstreamTimeout
	app.proxy.RefreshTimeout = app.cfg.RefreshTimeout

	var bus cache.Bus
	if app.bus != nil {
		bus = app.bus
	}
	app.dispatcher = cache.NewDispatcher(app.store, bus, app.cfg.CacheMaxStale)

	if app.bus != nil {
		if err := app.bus.Subscribe(app.dispatcher); err != nil {
			app.logger.Error("cache invalidation bus unavailable", "error", err)
		}
	}
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.logger)

	router.Proxy = app.proxy
	router.Auth = app.auth
	router.Cookies = app.cookies
	router.Dispatcher = app.dispatcher
	router.Store = app.store
	router.CacheTTL = app.cfg.CacheTTL
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

func (app *Application) closeCache() error {
	if app.store == nil {
		return nil
	}
	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing cache store", "error", err)
		return err
	}
	return nil
}
