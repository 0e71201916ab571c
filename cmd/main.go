package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"keyvex/internal/agents"
	"keyvex/internal/ai"
	"keyvex/internal/artifacts"
	"keyvex/internal/config"
	"keyvex/internal/db"
	"keyvex/internal/handlers"
	"keyvex/internal/logging"
	"keyvex/internal/metrics"
	"keyvex/internal/middleware"
	"keyvex/internal/orchestrator"
	"keyvex/internal/store"
	"keyvex/internal/validation"
	"keyvex/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			logging.L().Info("no .env file found, using environment variables")
		}
	}
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	config.LogSecretStatus(cfg.Keys)
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	// Bind the port before slower initialization so health checks succeed.
	var startupReady atomic.Bool
	var activeRouter atomic.Value // stores *gin.Engine

	bootstrapRouter := gin.New()
	bootstrapRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "starting", "ready": startupReady.Load()})
	})
	bootstrapRouter.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "server starting",
			"code":    "STARTING",
		})
	})
	activeRouter.Store(bootstrapRouter)

	serverErrors := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			activeRouter.Load().(*gin.Engine).ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	log.Info("bootstrap listener started", zap.String("port", cfg.Port))

	ctx := context.Background()

	// TCC store and its mirrors
	var (
		mirrors  []store.Mirror
		database *db.Database
		redis    *db.RedisClient
	)
	if cfg.TCCDir != "" {
		fm, err := store.NewFileMirror(cfg.TCCDir)
		if err != nil {
			log.Fatal("file mirror", zap.Error(err))
		}
		mirrors = append(mirrors, fm)
	}
	if cfg.UseRedis {
		redis, err = db.NewRedisClient(nil)
		if err != nil {
			log.Warn("redis unavailable, continuing without redis mirror", zap.Error(err))
		} else {
			mirrors = append(mirrors, store.NewRedisMirror(redis.Client(), cfg.TCCRedisTTL))
		}
	}
	if cfg.DatabaseURL != "" || cfg.SQLitePath != "" {
		database, err = db.NewDatabase(&db.Config{URL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath})
		if err != nil {
			log.Fatal("database", zap.Error(err))
		}
		sm, err := store.NewSQLMirror(database.DB)
		if err != nil {
			log.Fatal("sql mirror", zap.Error(err))
		}
		mirrors = append(mirrors, sm)
	}
	tccStore := store.New(mirrors...)
	mirrorNames := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		mirrorNames = append(mirrorNames, m.Name())
	}
	log.Info("tcc store ready", zap.Strings("mirrors", mirrorNames))

	// LLM providers
	var clients []ai.Client
	if cfg.Keys.OpenAI != "" {
		clients = append(clients, ai.NewOpenAIClient(cfg.Keys.OpenAI, ""))
	}
	if cfg.Keys.Anthropic != "" {
		clients = append(clients, ai.NewAnthropicClient(cfg.Keys.Anthropic, ""))
	}
	if cfg.Keys.Gemini != "" {
		gc, err := ai.NewGeminiClient(ctx, cfg.Keys.Gemini, "")
		if err != nil {
			log.Warn("gemini client disabled", zap.Error(err))
		} else {
			clients = append(clients, gc)
		}
	}
	limits := make(map[ai.Provider]ai.RateLimit, len(cfg.Models.RateLimits))
	for p, rl := range cfg.Models.RateLimits {
		limits[ai.Provider(p)] = ai.RateLimit{RPS: rl.RPS, Burst: rl.Burst}
	}
	aiRouter := ai.NewRouter(ai.RouterConfig{
		DefaultModel:  cfg.Models.Default,
		FallbackModel: cfg.Models.Fallback,
		RateLimits:    limits,
	}, clients...)
	log.Info("ai router ready",
		zap.Any("providers", aiRouter.Providers()),
		zap.String("default_model", cfg.Models.Default),
		zap.String("fallback_model", cfg.Models.Fallback))

	// Validation and archive
	checker := validation.New(validation.Config{
		TranspilerURL:     cfg.TranspilerURL,
		TranspilerTimeout: cfg.TranspilerTimeout,
		SmokeRunTimeout:   cfg.SmokeRunTimeout,
	})
	storage, err := artifacts.NewStorage(ctx, cfg.Artifacts)
	if err != nil {
		log.Fatal("artifact storage", zap.Error(err))
	}
	archive := artifacts.NewArchive(storage)

	registry := agents.Default(aiRouter, checker, archive)

	// Progress events: local websocket subscribers plus an optional relay
	hub := websocket.NewHub(websocket.HubConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Production:     cfg.IsProduction,
	})
	go hub.Run()
	events := websocket.Publishers{hub}
	var relay *websocket.Relay
	if cfg.LogRelayURL != "" {
		relay = websocket.NewRelay(websocket.RelayConfig{URL: cfg.LogRelayURL})
		relay.Start(ctx)
		events = append(events, relay)
	}

	var (
		dispatcher orchestrator.Dispatcher
		mode       = "direct"
	)
	if cfg.AgentBaseURL != "" {
		dispatcher = orchestrator.NewHTTPDispatcher(cfg.AgentBaseURL, nil)
		mode = "http"
	} else {
		dispatcher = orchestrator.NewDirectDispatcher(registry, tccStore)
	}
	orch := orchestrator.New(tccStore, dispatcher, events, orchestrator.Config{
		JobTimeout:  cfg.JobTimeout,
		Mode:        mode,
		AgentModels: cfg.Models.Agents,
	})
	log.Info("orchestrator ready", zap.String("mode", mode), zap.Duration("job_timeout", cfg.JobTimeout))

	metrics.Get().SetBuildInfo(getEnv("VERSION", "dev"), getEnv("GIT_COMMIT", "unknown"), getEnv("BUILD_DATE", "unknown"))
	collector := metrics.NewJobMetricsCollector(tccStore.CountByStatus, 30*time.Second)
	collector.Start(ctx)

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	h := &handlers.Handler{
		Store:        tccStore,
		Agents:       registry,
		Orchestrator: orch,
		Validator:    checker,
		Archive:      archive,
		AIRouter:     aiRouter,
		WSHub:        hub,
		Checks:       map[string]func(context.Context) error{},
	}
	if redis != nil {
		h.Checks["redis"] = redis.Ping
	}
	if database != nil {
		h.Checks["database"] = func(context.Context) error { return database.Ping() }
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger("/health", "/metrics"))
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.Security())
	router.Use(metrics.PrometheusMiddleware())
	router.GET("/metrics", metrics.PrometheusHandler())
	h.RegisterRoutes(router, middleware.RateLimit(limiter))

	activeRouter.Store(router)
	startupReady.Store(true)
	log.Info("keyvex ready", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP connections and drain existing ones
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	// 2. Cancel in-flight jobs and let them record their state
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("orchestrator shutdown", zap.Error(err))
	}

	// 3. Close event fan-out and background workers
	hub.Shutdown()
	if relay != nil {
		relay.Close()
	}
	collector.Stop()
	limiter.Stop()
	checker.Close()

	if redis != nil {
		_ = redis.Close()
	}
	if database != nil {
		_ = database.Close()
	}
	log.Info("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
