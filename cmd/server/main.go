package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/terminal-bench/mariscope/internal/config"
	"github.com/terminal-bench/mariscope/internal/handlers"
	"github.com/terminal-bench/mariscope/internal/logging"
	"github.com/terminal-bench/mariscope/internal/middleware"
	"github.com/terminal-bench/mariscope/internal/repository"
	"github.com/terminal-bench/mariscope/internal/services/archive"
	"github.com/terminal-bench/mariscope/internal/services/banking"
	"github.com/terminal-bench/mariscope/internal/services/compliance"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"github.com/terminal-bench/mariscope/internal/services/pooling"
	"github.com/terminal-bench/mariscope/pkg/lock"
	"github.com/terminal-bench/mariscope/pkg/messaging"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize repository
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Seed {
		if err := repository.Seed(ctx, store); err != nil {
			return err
		}
	}

	// Coordination: Redis when configured, in-process otherwise
	var (
		redisClient *redis.Client
		locker      lock.Locker = lock.NewLocal()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		rl, err := lock.NewRedis(redisClient, lock.DefaultOptions(), logger)
		if err != nil {
			return err
		}
		locker = rl
		logger.Info("using redis ledger locks")
	}

	var (
		bus       *messaging.Client
		publisher notification.Publisher
	)
	if cfg.NatsURL != "" {
		bus, err = messaging.NewClient(messaging.DefaultConfig(cfg.NatsURL), logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		publisher = bus
	}

	feed := notification.NewService(redisClient, publisher, logger)
	if bus != nil {
		// Stream subscribers also see activity recorded by other instances.
		if err := bus.Subscribe(notification.SubjectAll, func(_ string, data []byte) {
			feed.Relay(data)
		}); err != nil {
			return err
		}
	}

	poolOpts := pooling.Options{
		IncludeApplied: cfg.PoolIncludeApplied,
		Notifier:       feed,
		Logger:         logger,
	}
	if cfg.ArchiveEnabled() {
		archiver, err := archive.NewService(archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
			Region:    cfg.MinioRegion,
		}, logger)
		if err != nil {
			return err
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			logger.Warn("pool archive bucket unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
		poolOpts.Archiver = archiver
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS)
	limiter.StartCleanup(ctx, time.Minute)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := handlers.Deps{
		Compliance:     compliance.NewService(store, feed, logger),
		Banking:        banking.NewService(store, locker, banking.Scope(cfg.LedgerScope), feed, logger),
		Pooling:        pooling.NewService(store, poolOpts),
		Activity:       feed,
		Limiter:        limiter,
		Logger:         logger,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if db, ok := store.(*repository.SQL); ok {
		deps.DBStats = db.PoolStats
	}
	if bus != nil {
		deps.BusConnected = bus.IsConnected
	}
	router := handlers.NewRouter(deps)

	// Create server. Request contexts derive from ctx so activity streams
	// end on shutdown.
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("driver", cfg.PersistenceDriver),
			zap.String("ledger_scope", cfg.LedgerScope),
			zap.Bool("auth", cfg.AuthEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.PersistenceDriver {
	case config.DriverPostgres:
		return repository.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return repository.NewMemory(), nil
	}
}
