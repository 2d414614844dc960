package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/price-alerts/internal/api"
	"github.com/mohamedkhairy/price-alerts/internal/config"
	"github.com/mohamedkhairy/price-alerts/internal/notify"
	"github.com/mohamedkhairy/price-alerts/internal/pricing"
	"github.com/mohamedkhairy/price-alerts/internal/pubsub"
	"github.com/mohamedkhairy/price-alerts/internal/rules"
	"github.com/mohamedkhairy/price-alerts/internal/scheduler"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/mohamedkhairy/price-alerts/internal/wsgateway"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting price alert engine",
		logger.Int("port", cfg.API.Port),
		logger.String("price_source", cfg.Pricing.Source),
		logger.String("rule_store", cfg.Store.Type),
		logger.Strings("notify_channels", cfg.Notify.Channels),
		logger.Duration("interval", cfg.Engine.Interval),
	)

	// Redis is shared by every component configured to use it
	var redisClient storage.RedisClient
	if cfg.UsesRedis() {
		redisClient, err = pubsub.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
		}
		defer redisClient.Close()
	}

	// Rule and notification history repositories
	var (
		ruleRepo    rules.Repository
		historyRepo notify.HistoryRepository
	)
	switch cfg.Store.Type {
	case "postgres":
		dbRepo, err := rules.NewDatabaseRepository(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to initialize database repository", logger.ErrorField(err))
		}
		defer dbRepo.Close()
		ruleRepo = dbRepo
		historyRepo = dbRepo
	case "redis":
		redisRepo, err := rules.NewRedisRepository(redisClient, rules.RedisRepositoryConfig{KeyPrefix: cfg.Store.KeyPrefix})
		if err != nil {
			logger.Fatal("Failed to initialize Redis repository", logger.ErrorField(err))
		}
		ruleRepo = redisRepo
		historyRepo = notify.NewRedisHistoryRepository(redisClient, cfg.Store.KeyPrefix+"notifications")
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store := rules.NewStore(ruleRepo)
	if err := store.Load(loadCtx); err != nil {
		logger.Fatal("Failed to load alert rules", logger.ErrorField(err))
	}
	history := notify.NewHistory(cfg.Engine.HistoryLimit, historyRepo)
	if err := history.Load(loadCtx); err != nil {
		logger.Warn("Failed to load notification history, starting empty", logger.ErrorField(err))
	}
	loadCancel()

	// Price source
	var source pricing.Source
	var stream *pricing.StreamSource
	switch cfg.Pricing.Source {
	case "stream":
		streamCfg := pricing.DefaultStreamSourceConfig()
		streamCfg.URL = cfg.Pricing.StreamURL
		streamCfg.MaxAge = cfg.Pricing.MaxAge
		stream = pricing.NewStreamSource(streamCfg)
		source = stream
	case "redis":
		source = pricing.NewRedisSource(redisClient, pricing.RedisSourceConfig{
			KeyPrefix: cfg.Pricing.KeyPrefix,
			MaxAge:    cfg.Pricing.MaxAge,
		})
	default:
		source = pricing.NewMockSource(pricing.DefaultMockSourceConfig())
	}

	// Notification sinks
	authManager := wsgateway.NewAuthManager(cfg.WSGateway.JWTSecret)
	hub := wsgateway.NewHub(cfg.WSGateway, authManager)

	var sinks []notify.Sink
	if cfg.NotifyEnabled("log") {
		sinks = append(sinks, notify.NewLogSink())
	}
	if cfg.NotifyEnabled("redis") {
		sinks = append(sinks, notify.NewRedisSink(redisClient, notify.RedisSinkConfig{
			Channel:        cfg.Notify.RedisChannel,
			Stream:         cfg.Notify.RedisStream,
			PublishTimeout: 5 * time.Second,
		}))
	}
	if cfg.NotifyEnabled("ws") {
		sinks = append(sinks, hub)
	}

	dispatcher := notify.NewDispatcher(
		notify.NewVietnameseFormatter(),
		history,
		notify.NewMultiSink(sinks...),
		notify.Options{SoundEnabled: cfg.Engine.SoundEnabled},
	)

	engine := scheduler.New(scheduler.Config{
		Interval:     cfg.Engine.Interval,
		InitialDelay: cfg.Engine.InitialDelay,
		FetchTimeout: cfg.Engine.FetchTimeout,
		MaxCycleTime: cfg.Engine.MaxCycleTime,
		Enabled:      cfg.Engine.Enabled,
	}, store, source, dispatcher)

	if stream != nil {
		if err := stream.Start(); err != nil {
			logger.Fatal("Failed to start price stream", logger.ErrorField(err))
		}
	}
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start WebSocket hub", logger.ErrorField(err))
	}
	if err := engine.Start(); err != nil {
		logger.Fatal("Failed to start alert scheduler", logger.ErrorField(err))
	}

	// Set up router
	router := mux.NewRouter()
	api.RegisterRoutes(router,
		api.NewAlertHandler(store),
		api.NewNotificationHandler(history),
		api.NewEngineHandler(engine, dispatcher, store),
	)

	// WebSocket endpoint
	router.Handle(api.WebSocketPath, hub)

	// Health check endpoints
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !engine.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "redis": err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ready",
			"rules":        store.Count(),
			"active_rules": store.CountActive(),
			"ws_clients":   hub.ConnectionCount(),
		})
	})

	router.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	// Metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Apply middleware
	middlewares := api.ChainMiddleware(
		api.CORSMiddleware(),
		api.LoggingMiddleware(),
		api.ErrorHandlingMiddleware(),
		api.AuthMiddleware(wsgateway.NewAuthManager(cfg.API.JWTSecret)),
		api.RateLimitMiddleware(cfg.API.RateLimitRPS),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           middlewares(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down price alert engine")

	// Stop ticking first; an in-flight cycle still dispatches to the hub
	engine.Stop()
	if stream != nil {
		stream.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}
	hub.Stop()

	logger.Info("Price alert engine stopped")
}
