// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/deepvisas/internal/config"
	"github.com/bissquit/deepvisas/internal/credentials"
	"github.com/bissquit/deepvisas/internal/domain"
	"github.com/bissquit/deepvisas/internal/guard"
	"github.com/bissquit/deepvisas/internal/identity"
	"github.com/bissquit/deepvisas/internal/pkg/ctxlog"
	"github.com/bissquit/deepvisas/internal/pkg/httputil"
	"github.com/bissquit/deepvisas/internal/pkg/metrics"
	"github.com/bissquit/deepvisas/internal/pkg/postgres"
	"github.com/bissquit/deepvisas/internal/session"
	"github.com/bissquit/deepvisas/internal/storage"
	"github.com/bissquit/deepvisas/internal/storage/memory"
	storagepostgres "github.com/bissquit/deepvisas/internal/storage/postgres"
	"github.com/bissquit/deepvisas/internal/storage/sqlite"
	"github.com/bissquit/deepvisas/internal/version"
	"github.com/bissquit/deepvisas/internal/views"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         storage.Storage
	pool          *pgxpool.Pool
	credentials   *credentials.Store
	sessions      *session.Manager
	unsubscribe   func()
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance. The storage, the credential
// store and the session manager are created here once and shared by every
// handler.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectTimeout := cfg.Storage.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	connectCtx, connectCancel := context.WithTimeout(context.Background(), connectTimeout)
	defer connectCancel()

	store, pool, err := openStorage(connectCtx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app := &App{
		config: cfg,
		logger: logger,
		store:  store,
		pool:   pool,
	}

	if err := app.initSession(connectCtx); err != nil {
		_ = store.Close()
		return nil, err
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel
	if pool != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	router, err := app.setupRouter()
	if err != nil {
		app.unsubscribe()
		metricsCancel()
		_ = store.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Storage, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectAttempts: cfg.ConnectAttempts,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		store, err := storagepostgres.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func (a *App) initSession(ctx context.Context) error {
	matcher, err := credentials.NewMatcher(a.config.Auth.SecretHashing)
	if err != nil {
		return err
	}

	a.credentials = credentials.NewStore(a.store, matcher, credentials.WithLogger(a.logger))
	if err := a.credentials.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize credentials: %w", err)
	}

	var codec session.Codec = session.JSONCodec{}
	if key := a.config.Session.SigningKey; key != "" {
		codec = session.NewJWTCodec([]byte(key), a.config.Session.MaxAge)
	}

	a.sessions, err = session.NewManager(ctx, a.credentials, a.store, codec, session.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	a.unsubscribe = a.sessions.Subscribe(a.logAuthEvent)

	if user, ok := a.sessions.CurrentUser(); ok {
		a.logger.Info("restored session", "email", user.Email, "role", user.Role)
	}
	return nil
}

func (a *App) logAuthEvent(event session.Event) {
	a.logger.Info("auth event",
		"kind", event.Kind,
		"email", event.Identity.Email,
		"role", event.Identity.Role,
		"redirect", event.Redirect,
	)
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	a.unsubscribe()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.pool)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.pool)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Sessions returns the process-wide session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

func (a *App) setupRouter() (*chi.Mux, error) {
	renderer, err := views.NewRenderer()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(apiDocsPage))
	})

	// One limiter for every credential check in the process.
	var attempts func(http.Handler) http.Handler
	if a.config.Auth.RateLimit > 0 {
		attempts = httputil.RateLimit(rate.NewLimiter(rate.Limit(a.config.Auth.RateLimit), a.config.Auth.RateBurst))
	}

	identityHandler := identity.NewHandler(a.sessions, a.credentials)
	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r, attempts)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireAPI(a.sessions, guard.RequireRole(domain.RoleAdmin)))
			identityHandler.RegisterAdminRoutes(r)
		})
	})

	views.NewHandler(a.sessions, a.credentials, renderer).RegisterRoutes(r, attempts)

	return r, nil
}

// apiDocsPage renders the OpenAPI document with Swagger UI.
const apiDocsPage = `<!DOCTYPE html>
<html>
<head>
    <title>DeepVisas API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
