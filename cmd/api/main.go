// Package main is the entrypoint for the Roster API server.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/cache"
	"github.com/roster/roster/internal/config"
	"github.com/roster/roster/internal/handler"
	"github.com/roster/roster/internal/logging"
	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/middleware"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/query"
	"github.com/roster/roster/internal/repository"
	"github.com/roster/roster/internal/server"
	"github.com/roster/roster/internal/service"
	"github.com/roster/roster/internal/signals"
	"github.com/roster/roster/internal/webhook"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL))
		_ = logCloser.Close()
		os.Exit(1)
	}
	_ = logCloser.Close()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return err
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		logger.Error("failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return err
	}
	logger.Info("connected to Redis")

	// Webhook endpoints and deliveries go through database/sql.
	webhookDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		repo.Close()
		_ = cacheClient.Close()
		return err
	}
	webhookRepo := webhook.NewRepository(webhookDB)

	recorder := metrics.NewInMemory()
	dispatcher := connectReceivers(logger, recorder, cacheClient, webhookRepo)

	router := newRouter(cfg, logger, routerDeps{
		store:       repo,
		cache:       cacheClient,
		webhooks:    webhookRepo,
		recorder:    recorder,
		dispatcher:  dispatcher,
		keyResolver: auth.NewResolver(repo, cacheClient, logger),
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first so they close last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("webhook-db", func(context.Context) error { return webhookDB.Close() })
	srv.OnShutdown("redis", func(context.Context) error { return cacheClient.Close() })

	if cfg.WebhookWorkerEnabled {
		worker := webhook.NewWorker(webhookRepo, logger, recorder)
		worker.SetPollInterval(cfg.WebhookPollInterval)

		workerCtx, stopWorker := context.WithCancel(ctx)
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			if err := worker.Run(workerCtx); err != nil {
				logger.Error("webhook worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("webhook-worker", func(ctx context.Context) error {
			stopWorker()
			select {
			case <-workerDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"pagination", cfg.PaginationStyle,
	)
	return srv.Run(ctx)
}

// connectReceivers builds the dispatcher and connects the post-change
// receivers shared by every resource, in the order they run.
func connectReceivers(logger *slog.Logger, recorder *metrics.InMemoryRecorder, detail cache.DetailInvalidator, webhooks webhook.PublisherStore) *signals.Dispatcher {
	d := signals.New(logger)
	d.CountFailures(recorder)

	receivers := []struct {
		uid      string
		receiver signals.Receiver
	}{
		{"cache-invalidation", cache.InvalidationReceiver(detail)},
		{"webhook-publisher", webhook.NewPublisher(webhooks, logger, recorder).Receiver()},
		{"metrics", metrics.ModelEventReceiver(recorder)},
		{"audit", signals.AuditLog(logger)},
	}
	for _, r := range receivers {
		d.Connect(signals.PostSave, signals.AnySender, r.receiver, r.uid)
		d.Connect(signals.PostDelete, signals.AnySender, r.receiver, r.uid)
	}
	return d
}

// rosterStore is the Postgres repository as seen by the router.
type rosterStore interface {
	service.StudentStore
	service.EmployeeStore
	service.BlogStore
	service.CommentStore
	handler.APIKeyStore
	handler.HealthChecker
}

// appCache is the Redis cache as seen by the router.
type appCache interface {
	handler.DetailCache
	handler.AuthEvictor
	handler.HealthChecker
	middleware.RateLimiter
}

type routerDeps struct {
	store       rosterStore
	cache       appCache
	webhooks    handler.WebhookStore
	recorder    *metrics.InMemoryRecorder
	dispatcher  *signals.Dispatcher
	keyResolver middleware.KeyResolver
}

// newRouter configures the chi router with all routes and middleware.
func newRouter(cfg *config.Config, logger *slog.Logger, deps routerDeps) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	r.Use(chimiddleware.StripSlashes)
	r.Use(chimiddleware.GetHead)

	resources := []string{"students", "employees", "blogs", "comments"}
	h := handler.New(cfg.BaseURL, resources...)
	health := handler.NewHealthHandler(deps.store, deps.cache)

	r.Get("/", h.Root)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Get("/metrics", handler.NewMetricsHandler(deps.recorder).Metrics)
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	pagination := query.Pagination{
		Style:       query.Style(cfg.PaginationStyle),
		PageSize:    cfg.PageSize,
		MaxPageSize: cfg.MaxPageSize,
	}
	resourceCfg := func(resource string, fields query.FieldSet, notFound error) handler.ResourceConfig {
		return handler.ResourceConfig{
			Resource:   resource,
			Fields:     fields,
			Pagination: pagination,
			NotFound:   notFound,
			BaseURL:    cfg.BaseURL,
			Cache:      deps.cache,
			CacheTTL:   cfg.DetailCacheTTL,
			Metrics:    deps.recorder,
			Logger:     logger,
		}
	}

	students := handler.NewResourceHandler(
		service.NewStudentService(deps.store, deps.dispatcher),
		resourceCfg(model.ResourceStudent, repository.StudentFields, service.ErrStudentNotFound),
	)
	employees := handler.NewResourceHandler(
		service.NewEmployeeService(deps.store, deps.dispatcher),
		resourceCfg(model.ResourceEmployee, repository.EmployeeFields, service.ErrEmployeeNotFound),
	)

	blogCfg := resourceCfg(model.ResourceBlog, repository.BlogFields, service.ErrBlogNotFound)
	blogCfg.Pagination.Style = query.StylePage
	blogs := handler.NewResourceHandler(service.NewBlogService(deps.store, deps.dispatcher), blogCfg).
		WithDetail(func(b *model.Blog) any { return b.Detail() })

	commentCfg := resourceCfg(model.ResourceComment, repository.CommentFields, service.ErrCommentNotFound)
	commentCfg.Pagination.Style = query.StyleLimitOffset
	comments := handler.NewResourceHandler(service.NewCommentService(deps.store, deps.dispatcher), commentCfg)

	apiKeys := handler.NewAPIKeyHandler(deps.store, deps.cache, cfg.AppEnv, logger)
	webhooks := handler.NewWebhookHandler(deps.webhooks, logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(middleware.AuthConfig{
			Logger:   logger,
			Resolver: deps.keyResolver,
		}))
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Logger:      logger,
			Limiter:     deps.cache,
			APIEnabled:  cfg.RateLimitAPIEnabled,
			AnonEnabled: cfg.RateLimitAnonEnabled,
			AnonRPS:     cfg.RateLimitAnonRPS,
			AnonBurst:   cfg.RateLimitAnonBurst,
		}))

		perm := middleware.ReadOnlyOrAuthenticated(cfg.AnonymousRead)
		handler.RegisterViewSet(r, "/students", students, perm)
		handler.RegisterViewSet(r, "/employees", employees, perm)
		handler.RegisterViewSet(r, "/blogs", blogs, perm)
		handler.RegisterViewSet(r, "/comments", comments, perm)

		r.Route("/keys", func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			apiKeys.Routes(r)
		})
		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.RequireWebhook())
			webhooks.Routes(r)
		})
	})

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}
	if parsed.User != nil {
		parsed.User = url.User(parsed.User.Username())
	}
	return parsed.String()
}

// sanitizeError strips credentials of the given URLs from err's message.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, secret, redactURL(secret))
	}
	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
