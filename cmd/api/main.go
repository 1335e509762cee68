package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emilythestrangee/discuss/backend/internal/comments"
	"github.com/emilythestrangee/discuss/backend/internal/config"
	"github.com/emilythestrangee/discuss/backend/internal/database"
	"github.com/emilythestrangee/discuss/backend/internal/handlers"
	"github.com/emilythestrangee/discuss/backend/internal/karma"
	"github.com/emilythestrangee/discuss/backend/internal/logging"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/notifications"
	"github.com/emilythestrangee/discuss/backend/internal/server"
	"github.com/emilythestrangee/discuss/backend/internal/votes"
)

func setupRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *goredis.Client {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, karma cache disabled")
		return nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to parse redis URL", zap.Error(err))
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	return rdb
}

func runGracefulShutdown(srv *http.Server, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}

		close(done)
	}()

	return done
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use log before zap is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.New(cfg.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var cache karma.Cache
	if rdb := setupRedis(context.Background(), cfg, logger); rdb != nil {
		defer func() { _ = rdb.Close() }()
		cache = karma.NewRedisCache(rdb, cfg.KarmaCacheTTL)
	}

	gormDB := db.GetDB()
	tx := database.NewTransactor(gormDB, cfg.LockTimeout, m, logger.Named("tx"))
	dispatcher := notifications.NewDispatcher(gormDB, m, logger.Named("notifications"))
	projector := votes.NewProjector(tx, m, logger.Named("projector"))
	ledger := votes.NewLedger(tx, projector, dispatcher, m, logger.Named("votes"))
	tree := comments.NewTree(tx, dispatcher, m, logger.Named("comments"))
	calc := karma.NewCalculator(gormDB, cache, clockwork.NewRealClock(), m, logger.Named("karma"))

	handler := handlers.NewHandler(handlers.Deps{
		DB:            gormDB,
		Ledger:        ledger,
		Projector:     projector,
		Tree:          tree,
		Karma:         calc,
		Notifications: dispatcher,
		JWTSecret:     []byte(cfg.JWTSecret),
		Log:           logger.Named("http"),
	})

	srv := server.New(server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins(),
		JWTSecret:      []byte(cfg.JWTSecret),
	}, db, handler, registry, logger.Named("http")).HTTPServer()

	done := runGracefulShutdown(srv, logger)

	logger.Info("Server starting", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server error", zap.Error(err))
	}

	<-done
}
