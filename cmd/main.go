package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vietbot/chatbridge-backend/internal/clients/redis"
	"github.com/vietbot/chatbridge-backend/internal/config"
	"github.com/vietbot/chatbridge-backend/internal/db"
	"github.com/vietbot/chatbridge-backend/internal/handlers"
	"github.com/vietbot/chatbridge-backend/internal/jobs/worker"
	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/middleware"
	"github.com/vietbot/chatbridge-backend/internal/observability"
	"github.com/vietbot/chatbridge-backend/internal/repos"
	"github.com/vietbot/chatbridge-backend/internal/server"
	"github.com/vietbot/chatbridge-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal("Failed to load configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "chatbridge",
		Environment: cfg.Env,
		Version:     os.Getenv("SERVICE_VERSION"),
	})

	// Database
	dbService, err := db.NewDatabaseService(cfg, log)
	if err != nil {
		log.Fatal("Database init failed", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Warn("Auto migration failed", "error", err)
	}
	gdb := dbService.DB()

	// Redis is optional; every consumer degrades to in-memory state without it.
	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Warn("Redis unavailable, running with in-memory fallbacks", "error", err)
		rdb = nil
	}

	// Repos
	log.Info("Setting up Repos from main...")
	coreAIRepo := repos.NewCoreAIRepo(gdb, log)
	platformRepo := repos.NewPlatformRepo(gdb, log)
	platformActionRepo := repos.NewPlatformActionRepo(gdb, log)
	botRepo := repos.NewBotRepo(gdb, log)
	conversationRepo := repos.NewConversationRepo(gdb, log)
	messageRepo := repos.NewMessageRepo(gdb, log)

	// Services
	log.Info("Setting up Services from main...")
	configStore := services.NewConfigStore(log, botRepo, coreAIRepo, platformRepo, conversationRepo)
	historyService := services.NewHistoryService(log)
	historyCache := services.NewHistoryCache(log, rdb)

	var primary services.LockBackend
	if rdb != nil {
		primary = services.NewRedisLockBackend(rdb)
	}
	lockBackend := services.NewFailoverLockBackend(log, primary, services.NewMemoryLockBackend())
	lockManager := services.NewLockManager(log, lockBackend)

	jobRegistry := services.NewJobRegistry(log, rdb)
	aiClient := services.NewAIClient(log)
	dispatcher := services.NewPlatformDispatcher(log, lockManager, rdb)
	messageHandler := services.NewMessageHandler(log, historyService, historyCache, configStore, lockManager, jobRegistry, conversationRepo, messageRepo)

	// Background worker
	aiWorker := worker.New(log, jobRegistry, aiClient, dispatcher, lockManager, historyCache, conversationRepo)
	aiWorker.Start(ctx, cfg.WorkerConcurrency)

	// HTTP
	log.Info("Setting up Handlers from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.AdminAccessToken)
	chatHandler := handlers.NewChatHandler(log, messageHandler, jobRegistry, lockManager, gdb, rdb)
	coreAIHandler := handlers.NewCoreAIHandler(log, coreAIRepo, botRepo, configStore)
	platformHandler := handlers.NewPlatformHandler(log, platformRepo, platformActionRepo, botRepo, configStore)
	botHandler := handlers.NewBotHandler(log, botRepo, coreAIRepo, platformRepo, conversationRepo, configStore)
	conversationHandler := handlers.NewConversationHandler(log, conversationRepo, messageRepo, lockManager)

	router := server.NewRouter(server.RouterConfig{
		Env:                 cfg.Env,
		AuthMiddleware:      authMiddleware,
		ChatHandler:         chatHandler,
		CoreAIHandler:       coreAIHandler,
		PlatformHandler:     platformHandler,
		BotHandler:          botHandler,
		ConversationHandler: conversationHandler,
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	go func() {
		log.Info("HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}
	if shutdownOTel != nil {
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("Tracer shutdown failed", "error", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("Shutdown complete")
}
