package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authgate/internal/auth"
	"github.com/utafrali/authgate/internal/config"
	"github.com/utafrali/authgate/internal/event"
	handler "github.com/utafrali/authgate/internal/handler/http"
	"github.com/utafrali/authgate/internal/notify"
	"github.com/utafrali/authgate/internal/ratelimit"
	"github.com/utafrali/authgate/internal/repository"
	"github.com/utafrali/authgate/internal/repository/memory"
	"github.com/utafrali/authgate/internal/repository/postgres"
	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/internal/token"
	"github.com/utafrali/authgate/migrations"
	"github.com/utafrali/authgate/pkg/database"
	"github.com/utafrali/authgate/pkg/health"
	pkgkafka "github.com/utafrali/authgate/pkg/kafka"
	"github.com/utafrali/authgate/pkg/tracing"
)

const (
	serviceName    = "authgate"
	serviceVersion = "0.1.0"
	rateLimitKey   = "authgate:ratelimit:"
)

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	memLimiter     *ratelimit.MemoryLimiter
	producer       *pkgkafka.Producer
	sweeper        *token.Sweeper
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc

	stopSweeper context.CancelFunc
	sweeperDone sync.WaitGroup
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	users, err := a.initUserStore(ctx, healthHandler)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}

	limiter, err := a.initLimiter(ctx, healthHandler)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	proxies, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		_ = a.closeResources()
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	// Build the dependency graph.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenIssuer)
	tokens := token.NewManager(jwtManager, token.Config{
		RegistrationTTL:           cfg.RegistrationTokenTTL,
		SessionTTL:                cfg.SessionTokenTTL,
		ResetTTL:                  cfg.ResetTokenTTL,
		RequireLatestRegistration: cfg.RegistrationRequireLatestToken,
	})
	a.sweeper = token.NewSweeper(tokens, cfg.TokenSweepInterval, logger)

	authService := service.NewAuthService(
		users,
		tokens,
		auth.NewBcryptHasher(cfg.BcryptCost),
		a.newSender(),
		a.newPublisher(),
		service.Config{BaseURL: cfg.BaseURL, ResetTTL: cfg.ResetTokenTTL},
		logger,
	)

	// HTTP router.
	router := handler.NewRouter(authService, healthHandler, handler.RouterConfig{
		ServiceName:    serviceName,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        limiter,
		LimitMessage:   ratelimit.Message(cfg.RateLimitWindow),
		TrustedProxies: proxies,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler returns the HTTP handler served by the app.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

func (a *App) initUserStore(ctx context.Context, hh *health.Handler) (repository.UserRepository, error) {
	if a.cfg.UserStore == "memory" {
		a.logger.Warn("using in-memory credential store, users are lost on restart")
		return memory.NewUserRepository(), nil
	}

	pgCfg := database.PostgresConfig{
		Host:     a.cfg.PostgresHost,
		Port:     a.cfg.PostgresPort,
		User:     a.cfg.PostgresUser,
		Password: a.cfg.PostgresPass,
		DBName:   a.cfg.PostgresDB,
		SSLMode:  a.cfg.PostgresSSL,
		MaxConns: a.cfg.DBMaxConns,
		MinConns: a.cfg.DBMinConns,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	repo := postgres.NewUserRepository(pool)
	hh.Register("postgres", repo.Ping)
	return repo, nil
}

func (a *App) initLimiter(ctx context.Context, hh *health.Handler) (ratelimit.Limiter, error) {
	if a.cfg.RateLimitBackend != "redis" {
		a.memLimiter = ratelimit.NewMemoryLimiter(a.cfg.RateLimitMax, a.cfg.RateLimitWindow)
		return a.memLimiter, nil
	}

	client, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", client.Options().Addr))

	hh.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return ratelimit.NewRedisLimiter(client, rateLimitKey, a.cfg.RateLimitMax, a.cfg.RateLimitWindow), nil
}

// newSender builds breaker(throttle(channel)). Without an SMTP host, mail is
// logged; the body is included only in development.
func (a *App) newSender() notify.Sender {
	var base notify.Sender
	if a.cfg.SMTPHost == "" {
		a.logger.Warn("SMTP_HOST not set, outbound mail is logged instead of sent")
		base = notify.NewLogSender(a.logger, a.cfg.Environment == "development")
	} else {
		base = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.EmailUser,
			Password: a.cfg.EmailPass,
			From:     a.cfg.Sender(),
		})
	}

	throttled := notify.NewThrottledSender(base, a.cfg.MailMaxPerSecond, a.cfg.MailBurst)
	return notify.NewBreakerSender(throttled, notify.DefaultBreakerConfig(), a.logger)
}

func (a *App) newPublisher() event.Publisher {
	if !a.cfg.KafkaEnabled {
		return event.Nop{}
	}
	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))
	return event.NewKafkaPublisher(a.producer, a.logger)
}

// Run starts the token sweeper and the HTTP server and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stop := context.WithCancel(context.Background())
	a.stopSweeper = stop
	a.sweeperDone.Add(1)
	go func() {
		defer a.sweeperDone.Done()
		a.sweeper.Run(sweepCtx)
	}()

	errCh := make(chan error, 1)

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
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Token sweeper
// 3. Tracer (flush pending spans)
// 4. Kafka producer, Redis client, rate limiter, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.stopSweeper != nil {
		a.stopSweeper()
		a.sweeperDone.Wait()
	}

	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.memLimiter != nil {
		if err := a.memLimiter.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
