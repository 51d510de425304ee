package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"formy/api/cache"
	"formy/api/config"
	"formy/api/database"
	"formy/api/handlers"
	"formy/api/kafka"
	"formy/api/middleware"
	"formy/api/queue"
	"formy/api/repository"
	"formy/api/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("API Service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	rdb, err := database.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Fatal("Failed to create upload dir", zap.Error(err))
	}

	taskRepo := repository.NewPostgresTaskRepo(db)
	ledgerRepo := repository.NewPostgresLedgerRepo(db)
	statusCache := cache.NewStatusCache(rdb)
	taskQueue := queue.New(rdb.Client())

	taskService := service.NewTaskService(taskRepo, ledgerRepo, statusCache, taskQueue,
		producer, cfg.KafkaTopic, cfg.MaxConcurrentPerUser, logger)
	billingService := service.NewBillingService(ledgerRepo, logger)

	taskHandler := handlers.NewTaskHandler(taskService, logger)
	billingHandler := handlers.NewBillingHandler(billingService, logger)
	uploadHandler := handlers.NewUploadHandler(cfg.UploadDir, cfg.MaxUploadSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", taskHandler.Health)

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.UserID(h)
	}
	mux.Handle("/tasks", authed(taskHandler.Tasks))
	mux.Handle("/tasks/", authed(taskHandler.TaskByID))
	mux.Handle("/stats", authed(taskHandler.Stats))
	mux.Handle("/uploads", authed(uploadHandler.Upload))
	mux.Handle("/billing/me", authed(billingHandler.Me))
	mux.Handle("/billing/change_plan", authed(billingHandler.ChangePlan))
	mux.Handle("/billing/topup", authed(billingHandler.TopUp))

	// TraceID sits outermost so the recovery body can echo the id.
	handler := middleware.Logging(logger)(mux)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.TraceID(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}
