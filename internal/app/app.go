// Package app wires the order server: storage, realtime hub, domain
// services, HTTP handlers, and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/geo"
	"github.com/lunaroast/brewbox/internal/handler"
	"github.com/lunaroast/brewbox/internal/realtime"
	"github.com/lunaroast/brewbox/internal/storage/objectstore"
	"github.com/lunaroast/brewbox/internal/storage/postgres"
	"github.com/lunaroast/brewbox/internal/storage/ridercache"
	"github.com/lunaroast/brewbox/pkg/health"
	"github.com/lunaroast/brewbox/pkg/httpmiddleware"
)

// riderLocationTTL bounds how long a cached rider position outlives its
// last ping.
const riderLocationTTL = time.Hour

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis-backed rider location cache. Optional: without it rider
	// positions are served from the order row only.
	var riderCache *ridercache.Cache
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis URL")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		riderCache = ridercache.New(rdb, riderLocationTTL)
	}

	// Health probes.
	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.Register(health.Readiness, "redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Realtime hub: order mutations fan out to websocket subscribers.
	hub := realtime.NewHub(lg.Named("realtime"), cfg.Realtime.Buffer)

	// Repositories and domain services.
	orderRepo := postgres.NewOrderRepository(pool)
	merchantRepo := postgres.NewMerchantRepository(pool)
	profileRepo := postgres.NewProfileRepository(pool)

	var locations order.RiderLocations
	if riderCache != nil {
		locations = riderCache
	}
	orderSvc := order.NewService(orderRepo, hub, locations)

	// Merchant onboarding document store. Optional.
	var docs objectstore.Store
	if cfg.Documents.Dir != "" {
		local, err := objectstore.NewLocal(cfg.Documents.Dir, cfg.Documents.BaseURL)
		if err != nil {
			return errors.Wrap(err, "create document store")
		}
		docs = local
	}

	// Position lookup. Optional.
	var locator handler.PositionLocator
	if cfg.Geo.GeocoderURL != "" {
		var pois geo.POISearcher
		if cfg.Geo.OverpassURL != "" {
			pois = geo.NewOverpassPOISearcher(cfg.Geo.OverpassURL, cfg.Geo.POIRadius)
		}
		locator = geo.NewLocator(geo.NewNominatimGeocoder(cfg.Geo.GeocoderURL), pois)
	}

	var riders handler.RiderLocationReader
	if riderCache != nil {
		riders = riderCache
	}
	h := handler.NewHandler(orderSvc, merchantRepo, riders, docs, locator)

	authenticate := handler.Authenticate([]byte(cfg.JWTSecret), profileRepo)
	ws := realtime.NewWSHandler(hub, func(r *http.Request) string {
		return handler.UserFrom(r.Context())
	})

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Mount("/api", h.Routes())
		r.Handle("/realtime", ws)
	})

	if cfg.Documents.Dir != "" {
		fs := http.StripPrefix("/documents/", http.FileServer(http.Dir(cfg.Documents.Dir)))
		root.Get("/documents/*", fs.ServeHTTP)
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Writes stay open for the lifetime of websocket subscriptions, so
		// no WriteTimeout here; regular handlers are bounded upstream.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(m.MeterProvider().Meter("brewbox-api")),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: drop readiness, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
