// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/respondr-uk/respondr/internal/config"
	"github.com/respondr-uk/respondr/internal/idempotency"
	"github.com/respondr-uk/respondr/internal/incidents"
	"github.com/respondr-uk/respondr/internal/incidents/memory"
	incidentspostgres "github.com/respondr-uk/respondr/internal/incidents/postgres"
	"github.com/respondr-uk/respondr/internal/notifications"
	"github.com/respondr-uk/respondr/internal/notifications/email"
	"github.com/respondr-uk/respondr/internal/notifications/mattermost"
	notificationspostgres "github.com/respondr-uk/respondr/internal/notifications/postgres"
	"github.com/respondr-uk/respondr/internal/notifications/telegram"
	"github.com/respondr-uk/respondr/internal/pkg/ctxlog"
	"github.com/respondr-uk/respondr/internal/pkg/httputil"
	"github.com/respondr-uk/respondr/internal/pkg/logging"
	"github.com/respondr-uk/respondr/internal/pkg/markdown"
	"github.com/respondr-uk/respondr/internal/pkg/metrics"
	"github.com/respondr-uk/respondr/internal/pkg/postgres"
	"github.com/respondr-uk/respondr/internal/version"
)

// App represents the application instance.
type App struct {
	config             *config.Config
	logger             *slog.Logger
	db                 *pgxpool.Pool // nil with the memory storage driver
	redis              *redis.Client // nil unless idempotency keys live in Redis
	server             *http.Server
	metricsServer      *http.Server
	metricsCancel      context.CancelFunc
	notificationWorker *notifications.Worker
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	build := version.Get()
	metrics.SetBuildInfo(build.Version, build.Commit, build.BuildDate)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	if err := app.connect(); err != nil {
		app.closeClients()
		metricsCancel()
		return nil, err
	}

	if app.db != nil {
		go metrics.CollectDBPool(metricsCtx, app.db, metrics.DefaultPoolInterval)
	}

	router, notificationWorker, err := app.setupRouter(metricsCtx)
	if err != nil {
		app.closeClients()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.notificationWorker = notificationWorker

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
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

// connect opens the clients the configuration asks for.
func (a *App) connect() error {
	cfg := a.config

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	if cfg.Storage.Driver == config.StorageDriverPostgres {
		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
	}

	if cfg.Idempotency.Enabled && cfg.Idempotency.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.redis = client
		if err := client.Ping(connectCtx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	return nil
}

func (a *App) closeClients() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
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
		"version", version.Version,
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

	// Stop notification worker first
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeClients()

	return errors.Join(errs...)
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(metrics.DefaultPoolInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
			slog.Debug("notification queue", "backlog", stats.Backlog(), "failed", stats.Failed)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotificationWorker returns the notification worker instance.
// Used in tests to access worker state. Returns nil if notifications disabled.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *notifications.Worker, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
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
		http.ServeFile(w, r, a.config.Server.OpenAPIPath)
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docsPage))
	})

	transitions, err := incidents.NewTransitionPolicy(a.config.Incidents.Transitions)
	if err != nil {
		return nil, nil, fmt.Errorf("transition policy: %w", err)
	}

	var incidentsRepo incidents.Repository
	if a.db != nil {
		incidentsRepo = incidentspostgres.NewRepository(a.db, a.config.Incidents.IDPrefix)
	} else {
		a.logger.Warn("using in-memory storage: incidents are lost on restart")
		incidentsRepo = memory.NewRepository(a.config.Incidents.IDPrefix)
	}

	notifier, notificationWorker, err := a.setupNotifications(ctx)
	if err != nil {
		return nil, nil, err
	}

	incidentsService := incidents.NewService(incidentsRepo, notifier, incidents.Config{
		LogNoOpTransitions: a.config.Incidents.LogNoOpTransitions,
		Transitions:        transitions,
	})
	incidentsHandler := incidents.NewHandler(incidentsService, markdown.NewRenderer())

	var idempotencyStore idempotency.Store
	if a.config.Idempotency.Enabled {
		if a.redis != nil {
			idempotencyStore = idempotency.NewRedisStore(a.redis)
		} else {
			idempotencyStore = idempotency.NewMemoryStore()
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		incidentsHandler.RegisterReadRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireActor)
			if idempotencyStore != nil {
				r.Use(idempotency.Middleware(idempotencyStore, idempotency.Config{
					TTL:     a.config.Idempotency.TTL,
					LockTTL: a.config.Idempotency.LockTTL,
				}))
			}
			incidentsHandler.RegisterWriteRoutes(r)
		})
	})

	return r, notificationWorker, nil
}

// setupNotifications builds the notifier and starts the queue worker. Both
// are nil when notifications are disabled.
func (a *App) setupNotifications(ctx context.Context) (incidents.ChangeNotifier, *notifications.Worker, error) {
	cfg := a.config.Notifications

	slog.Info("notifications configured",
		"enabled", cfg.Enabled,
		"channels", len(cfg.Channels),
		"email_enabled", cfg.Email.Enabled,
		"telegram_enabled", cfg.Telegram.Enabled,
	)

	if !cfg.Enabled {
		return nil, nil, nil
	}
	if a.db == nil {
		slog.Warn("notifications need the postgres storage driver for their queue, disabling")
		return nil, nil, nil
	}

	// Mattermost needs no credentials: the webhook URL is the channel target.
	senders := []notifications.Sender{mattermost.NewSender(mattermost.Config{})}

	if cfg.Email.Enabled {
		emailSender, err := email.NewSender(email.Config{
			Enabled:      true,
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, emailSender)
	}

	if cfg.Telegram.Enabled {
		telegramSender, err := telegram.NewSender(telegram.Config{
			Enabled:   true,
			BotToken:  cfg.Telegram.BotToken,
			RateLimit: cfg.Telegram.RateLimit,
			APIURL:    cfg.Telegram.APIURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create telegram sender: %w", err)
		}
		senders = append(senders, telegramSender)
	}

	dispatcher := notifications.NewDispatcher(senders...)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("create notification renderer: %w", err)
	}

	queue := notificationspostgres.NewRepository(a.db)

	notifier := notifications.NewNotifier(queue, notifications.NotifierConfig{
		Channels:    cfg.Channels,
		BaseURL:     cfg.BaseURL,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}, dispatcher.Supports)

	workerConfig := notifications.DefaultWorkerConfig()
	workerConfig.BatchSize = cfg.Worker.BatchSize
	workerConfig.PollInterval = cfg.Worker.PollInterval
	workerConfig.NumWorkers = cfg.Worker.NumWorkers
	workerConfig.InitialBackoff = cfg.Retry.InitialBackoff
	workerConfig.MaxBackoff = cfg.Retry.MaxBackoff
	workerConfig.BackoffMultiplier = cfg.Retry.BackoffMultiplier

	worker := notifications.NewWorker(workerConfig, queue, dispatcher, renderer)
	worker.Start(ctx)

	go a.collectQueueMetrics(ctx, queue)

	return notifier, worker, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
    <title>Respondr API</title>
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
