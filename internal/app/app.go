// Package app assembles the trading engine and its infrastructure from
// configuration. Both the API server and the CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/log/global"

	"github.com/irfndi/sentio-go/internal/api"
	"github.com/irfndi/sentio-go/internal/cache"
	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/database"
	"github.com/irfndi/sentio-go/internal/logging"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/notification"
	"github.com/irfndi/sentio-go/internal/resilience"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/strategies"
	"github.com/irfndi/sentio-go/internal/telemetry"
)

const ServiceName = "sentio"

// App holds the wired components. Close releases them.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *strategies.Registry
	Engine   *services.TradingEngine
	Auth     *middleware.AuthMiddleware
	Provider marketdata.Provider

	db                *database.PostgresDB
	redis             *database.RedisClient
	shutdownTelemetry telemetry.ShutdownFunc
}

type options struct {
	provider marketdata.Provider
	registry *strategies.Registry
	logger   *logrus.Logger
}

// Option customizes New
type Option func(*options)

// WithProvider replaces the HTTP market-data chain, e.g. with candles
// loaded from a CSV file.
func WithProvider(p marketdata.Provider) Option {
	return func(o *options) { o.provider = p }
}

func WithRegistry(r *strategies.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New wires the application. Postgres and Redis are connected only when
// enabled in the configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger(cfg.LogLevel, cfg.Environment)
	}
	if o.registry == nil {
		o.registry = strategies.Default()
	}
	logger := o.logger

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if telemetry.ExportsLogs(cfg.Telemetry) {
		logger.AddHook(logging.NewOTelHook(global.GetLoggerProvider().Logger(telemetry.InstrumentationName), logger.GetLevel()))
	}

	a := &App{
		Config:            cfg,
		Logger:            logger,
		Registry:          o.registry,
		shutdownTelemetry: shutdownTelemetry,
	}

	if cfg.Database.Enabled {
		if a.db, err = database.NewPostgresConnection(ctx, cfg.Database, logger); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}
	if cfg.Redis.Enabled {
		if a.redis, err = database.NewRedisConnection(ctx, cfg.Redis, logger); err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
	}

	a.Provider = o.provider
	if a.Provider == nil {
		a.Provider = a.marketDataProvider()
	}

	if err := a.buildEngine(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	secret := cfg.Security.JWTSecret
	if secret == "" {
		// Validate only allows this in development and test.
		secret = uuid.NewString()
		logger.Warn("JWT secret not configured, using an ephemeral secret for this process")
	}
	a.Auth = middleware.NewAuthMiddleware(secret)

	return a, nil
}

// marketDataProvider builds HTTP -> retry/breaker -> Redis cache.
func (a *App) marketDataProvider() marketdata.Provider {
	breaker := resilience.NewBreaker("market_data", resilience.BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		MaxRequests:      10,
	}, a.Logger)

	policy := resilience.DefaultRetryPolicy()
	if a.Config.MarketData.MaxRetries > 0 {
		policy.MaxRetries = a.Config.MarketData.MaxRetries
	}

	var provider marketdata.Provider = marketdata.NewResilientProvider(
		marketdata.NewHTTPProvider(a.Config.MarketData, a.Logger), breaker, policy, a.Logger)

	if a.redis != nil {
		candleCache := cache.NewCandleCache(a.redis.Client, a.Config.MarketData.CacheTTLDuration(), a.Logger)
		provider = marketdata.NewCachedProvider(provider, candleCache, a.Logger)
	}
	return provider
}

func (a *App) buildEngine(ctx context.Context) error {
	cfg := a.Config
	risk := services.NewRiskManager(cfg.Risk, cfg.Engine.InitialCapital, a.Logger)
	voting := services.NewStrategyVotingEngine(cfg.Voting, a.Logger)

	engine, err := services.NewTradingEngine(cfg.Engine, a.Provider, a.Registry, voting, risk, a.Logger)
	if err != nil {
		return err
	}

	if a.redis != nil {
		engine.SetSignalCache(cache.NewVotingResultCache(a.redis.Client, cfg.MarketData.CacheTTLDuration()))
	} else {
		engine.SetSignalCache(cache.NewMemoryVotingResultCache())
	}

	notifiers := notification.MultiNotifier{notification.NewLogNotifier(a.Logger)}
	if cfg.Telegram.BotToken != "" {
		telegram, err := notification.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notifier: %w", err)
		}
		notifiers = append(notifiers, telegram)
	}
	engine.SetNotifier(notifiers)

	if a.db != nil {
		repo := database.NewTradeRepository(database.NewTracedPool(a.db.Pool, a.Logger))
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		history, err := repo.LoadTradeHistory(ctx)
		if err != nil {
			return err
		}
		engine.LoadHistory(history)
		engine.SetTradeStore(repo)
		a.Logger.WithField("trades", len(history)).Info("Trade history loaded")
	}

	a.Engine = engine
	return nil
}

// Symbols returns the configured watch list.
func (a *App) Symbols() []string {
	return a.Config.MarketData.Symbols
}

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	if a.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ServiceName, a.Logger)

	deps := api.Dependencies{
		Engine:   a.Engine,
		Registry: a.Registry,
		Auth:     a.Auth,
		Version:  a.Config.Telemetry.ServiceVersion,
		Logger:   a.Logger,
	}
	if a.db != nil {
		deps.Database = a.db
	}
	if a.redis != nil {
		deps.Redis = a.redis
	}
	api.SetupRoutes(router, deps)
	return router
}

// Serve runs the HTTP API until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogStartup(a.Logger, ServiceName, a.Config.Telemetry.ServiceVersion, a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.LogShutdown(a.Logger, ServiceName, "signal received")

	// Give outstanding requests a deadline for completion
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.Logger.Info("Server exited gracefully")
	return nil
}

// Close releases connections and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			return fmt.Errorf("failed to shutdown telemetry: %w", err)
		}
	}
	return nil
}
