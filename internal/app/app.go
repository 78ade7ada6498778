// Package app wires the gateway's dependencies and runs its lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haitnmt/Haihv.Identities/internal/cache"
	"github.com/haitnmt/Haihv.Identities/internal/config"
	"github.com/haitnmt/Haihv.Identities/internal/event"
	"github.com/haitnmt/Haihv.Identities/internal/group"
	handler "github.com/haitnmt/Haihv.Identities/internal/handler/http"
	"github.com/haitnmt/Haihv.Identities/internal/ldap"
	"github.com/haitnmt/Haihv.Identities/internal/service"
	"github.com/haitnmt/Haihv.Identities/internal/throttle"
	"github.com/haitnmt/Haihv.Identities/internal/token"
	"github.com/haitnmt/Haihv.Identities/pkg/database"
	"github.com/haitnmt/Haihv.Identities/pkg/health"
	pkgkafka "github.com/haitnmt/Haihv.Identities/pkg/kafka"
	"github.com/haitnmt/Haihv.Identities/pkg/tracing"
)

// App wires together all dependencies and runs the identity gateway.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates the application with all dependencies wired.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Redis backs the cache, throttle and token markers.
	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis",
		slog.String("host", cfg.RedisHost),
		slog.Int("db", cfg.RedisDB),
	)

	// Tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:  "identity-gateway",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTELEndpoint,
		SampleRate:   cfg.OTELSampleRate,
		Enabled:      cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}

	// Kafka audit events, optional per deployment.
	var producer *pkgkafka.Producer
	var eventProducer *event.Producer
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		eventProducer = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	taggedCache := cache.New(rdb)
	dirClient := ldap.NewClient(ldap.Config{
		URL:                cfg.LdapURL(),
		BaseDN:             cfg.LdapBaseDN,
		RootGroupDN:        cfg.LdapRootGroupDN,
		Domain:             cfg.LdapDomain,
		DomainFullname:     cfg.LdapDomainFull,
		BindDN:             cfg.LdapBindDN,
		BindPassword:       cfg.LdapBindPassword,
		Timeout:            cfg.LdapTimeout,
		InsecureSkipVerify: cfg.LdapInsecureVerify,
	}, logger)
	tokens := token.NewProvider(taggedCache, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience,
		cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	locks := throttle.New(taggedCache, cfg.ThrottleStep, logger)
	groups := group.NewResolver(dirClient, taggedCache, cfg.GroupsCacheTTL, logger)

	authService := service.NewAuthService(dirClient, tokens, locks, groups, taggedCache, eventProducer,
		service.Config{
			MaxAttempts:              cfg.ThrottleMaxAttempts,
			MaxAttemptsPerDay:        cfg.ThrottleMaxAttemptsPerDay,
			RefreshMaxAttempts:       cfg.RefreshMaxAttempts,
			RefreshMaxAttemptsPerDay: cfg.RefreshMaxAttemptsPerDay,
			UserCacheTTL:             cfg.UserCacheTTL,
			NotFoundTTL:              cfg.NotFoundCacheTTL,
		}, logger)

	// Health checks. The directory is critical, Kafka is not.
	healthHandler := health.NewHandler()
	healthHandler.Register("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthHandler.Register("ldap", dirClient.Ping)
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	router := handler.NewRouter(authService, healthHandler, logger,
		handler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		handler.CookieConfig{
			Name:   cfg.CookieName,
			Path:   cfg.CookiePath,
			Secure: cfg.CookieSecure,
		},
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		rdb:            rdb,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components, newest dependency first.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}

	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
	}

	a.logger.Info("application shutdown complete")
	return nil
}
