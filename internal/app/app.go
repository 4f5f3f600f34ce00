package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/leasehub/tenantauth/internal/auth"
	"github.com/leasehub/tenantauth/internal/config"
	"github.com/leasehub/tenantauth/internal/event"
	handler "github.com/leasehub/tenantauth/internal/handler/http"
	"github.com/leasehub/tenantauth/internal/notifier"
	kafkasender "github.com/leasehub/tenantauth/internal/notifier/kafka"
	"github.com/leasehub/tenantauth/internal/notifier/logsender"
	"github.com/leasehub/tenantauth/internal/notifier/whatsapp"
	"github.com/leasehub/tenantauth/internal/phone"
	"github.com/leasehub/tenantauth/internal/repository/postgres"
	redisrepo "github.com/leasehub/tenantauth/internal/repository/redis"
	"github.com/leasehub/tenantauth/internal/service"
	"github.com/leasehub/tenantauth/internal/tenant"
	"github.com/leasehub/tenantauth/migrations"
	"github.com/leasehub/tenantauth/pkg/database"
	"github.com/leasehub/tenantauth/pkg/health"
	"github.com/leasehub/tenantauth/pkg/httpclient"
	pkgkafka "github.com/leasehub/tenantauth/pkg/kafka"
	"github.com/leasehub/tenantauth/pkg/middleware"
	"github.com/leasehub/tenantauth/pkg/tracing"
)

// ServiceName identifies the service in logs, metrics and traces.
const ServiceName = "tenantauth"

// App wires together all dependencies and runs the tenant auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dispatcher     *notifier.Dispatcher
	otpService     *service.OTPService
	ipLimiter      *middleware.IPRateLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var cleanups []func()
	defer func() {
		if err != nil {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	cleanups = append(cleanups, func() { _ = tracerShutdown(context.Background()) })

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	cleanups = append(cleanups, pool.Close)
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	reg.MustRegister(database.NewPoolStatsCollector(pool, ServiceName))

	if cfg.RunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	// Initialize Redis.
	rdb, err := database.NewRedisClient(ctx, cfg.Redis(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	cleanups = append(cleanups, func() { _ = rdb.Close() })
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), reg, logger)
	cleanups = append(cleanups, func() { _ = producer.Close() })
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	eventProducer := event.NewProducer(producer, logger)

	sender, err := newSender(cfg, eventProducer, reg, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := notifier.NewDispatcher(sender, cfg.NotifierTimeout, reg, logger)
	logger.Info("notifier initialized", slog.String("driver", sender.Name()))

	// Build the dependency graph.
	normalizer := phone.NewNormalizer(cfg.DefaultPhoneRegion)
	sessions := auth.NewSessionManager(cfg.JWTSecret, cfg.SessionTokenExpiry)
	queryTracer := database.NewQueryTracer(cfg.PostgresDB, cfg.SlowQueryThreshold(), logger)
	tenantRepo := postgres.NewTenantRepository(pool, queryTracer)
	resolver := tenant.NewResolver(tenantRepo, normalizer, logger)

	otpService := service.NewOTPService(
		normalizer,
		redisrepo.NewRateLimiter(rdb, cfg.RateLimitWindow, cfg.RateLimitMax),
		redisrepo.NewChallengeStore(rdb, cfg.ChallengeSecret(), cfg.OTPMaxAttempts),
		resolver,
		dispatcher,
		sessions,
		eventProducer,
		service.NewMetrics(reg),
		cfg.OTPTTL,
		logger,
	)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins

	ipLimiter := middleware.NewIPRateLimiter(cfg.IPRateLimitRPS, cfg.IPRateLimitBurst, cfg.TrustProxy)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: ServiceName,
		WhatsApp: handler.NewWhatsAppHandler(otpService, sessions, handler.CookieConfig{
			Secure:     cfg.CookieSecure,
			ContextTTL: cfg.OTPTTL,
		}, logger),
		Session:   handler.NewSessionHandler(cfg.CookieSecure, logger),
		Validator: sessions.Validator(),
		Health:    healthHandler,
		Metrics:   middleware.NewHTTPMetrics(reg, ServiceName),
		Gatherer:  reg,
		IPLimiter: ipLimiter,
		CORS:      corsConfig,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          rdb,
		producer:       producer,
		dispatcher:     dispatcher,
		otpService:     otpService,
		ipLimiter:      ipLimiter,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newSender selects the delivery driver named by NOTIFIER_DRIVER.
func newSender(cfg *config.Config, events *event.Producer, reg prometheus.Registerer, logger *slog.Logger) (notifier.Sender, error) {
	switch cfg.NotifierDriver {
	case config.NotifierLog:
		return logsender.NewSender(logger), nil
	case config.NotifierKafka:
		return kafkasender.NewSender(events), nil
	case config.NotifierWhatsApp:
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = cfg.NotifierTimeout
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(clientCfg),
			httpclient.DefaultCircuitBreakerConfig("whatsapp"),
			reg,
			logger,
		)
		return whatsapp.NewSender(client, whatsapp.Config{
			APIURL:           cfg.WhatsAppAPIURL,
			PhoneNumberID:    cfg.WhatsAppPhoneNumberID,
			AccessToken:      cfg.WhatsAppAccessToken,
			TemplateName:     cfg.WhatsAppTemplateName,
			TemplateLanguage: cfg.WhatsAppTemplateLanguage,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown notifier driver %q", cfg.NotifierDriver)
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.ipLimiter.Run(ctx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background audit events and code deliveries
// 3. Tracer (flush pending spans)
// 4. Kafka producer
// 5. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Wait for work started by drained requests (budget covers one delivery).
	bgCtx, bgCancel := context.WithTimeout(context.Background(), a.cfg.NotifierTimeout+time.Second)
	defer bgCancel()
	if err := a.otpService.Shutdown(bgCtx); err != nil {
		a.logger.Error("audit publishing did not drain", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dispatcher.Shutdown(bgCtx); err != nil {
		a.logger.Error("code deliveries did not drain", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 3. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close Redis and PostgreSQL.
	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
