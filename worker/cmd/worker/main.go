package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"formy/worker/cache"
	"formy/worker/config"
	"formy/worker/engine"
	"formy/worker/kafka"
	"formy/worker/pipeline"
	"formy/worker/queue"
	"formy/worker/repository"
	"formy/worker/service"
	"formy/worker/thumbnail"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("Worker Service starting", zap.Int("workers", cfg.WorkerCount))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.Ping(pingCtx); err != nil {
		cancel()
		logger.Fatal("Failed to ping postgres", zap.Error(err))
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	registry := loadRegistry(cfg.EngineConfigPath, logger)

	renderer := thumbnail.NewRenderer(cfg.ResultDir, logger)
	if err := renderer.EnsureDir(); err != nil {
		logger.Fatal("Failed to create result dir", zap.Error(err))
	}

	resolver := pipeline.NewResolver()
	resolver.Register(pipeline.NewHeadSwapPipeline(registry, renderer, logger))
	resolver.Register(pipeline.NewBackgroundChangePipeline(registry, renderer, logger))
	resolver.Register(pipeline.NewPoseChangePipeline(registry, renderer, logger))

	taskQueue := queue.New(rdb)
	repo := repository.NewPostgresRepo(db)
	statusCache := cache.NewStatusCache(rdb)

	processor := service.NewProcessor(taskQueue, repo, statusCache, producer,
		cfg.KafkaTopic, resolver, cfg.WorkerCount, cfg.PopTimeout, logger)

	if err := processor.RecoverStuck(ctx, cfg.StuckTaskAge); err != nil {
		logger.Error("Stuck task recovery failed", zap.Error(err))
	}

	for name, healthy := range registry.HealthCheckAll(ctx) {
		logger.Info("Engine health", zap.String("engine", name), zap.Bool("healthy", healthy))
	}

	processor.Run(ctx)
	logger.Info("Worker Service stopped")
}

// loadRegistry falls back to an empty registry when no catalog is
// present, so pipelines degrade to pass-through stages instead of the
// worker refusing to start.
func loadRegistry(path string, logger *zap.Logger) *engine.Registry {
	if _, err := os.Stat(path); err != nil {
		logger.Warn("Engine catalog not found, starting with no engines",
			zap.String("path", path))
		return engine.NewRegistry(logger)
	}

	registry, err := engine.LoadCatalog(path, logger)
	if err != nil {
		logger.Fatal("Failed to load engine catalog", zap.Error(err))
	}
	return registry
}
