package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiercache/internal/auth"
	"tiercache/internal/cache"
	"tiercache/internal/common/logging"
	"tiercache/internal/config"
	"tiercache/internal/handlers"
	"tiercache/internal/redis"
	"tiercache/internal/server"
	"tiercache/internal/warmup"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level: logging.ParseLevel(cfg.LogLevel),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Connect to the shared cache tier
	redisDB, _ := strconv.Atoi(cfg.RedisDB)
	redisPoolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
	redisClient, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis: Connected", logging.String("address", cfg.RedisAddress))

	// Build the cache service
	cacheService := cache.NewService(cache.NewRedisRemote(redisClient.RDB()), cache.Options{
		MaxEntries:      cfg.MaxEntries(),
		CleanupInterval: cfg.CleanupInterval(),
		DefaultTTL:      cfg.DefaultTTL(),
		Logger:          logger,
	})
	defer cacheService.Close()
	logger.Info("Cache: Initialized",
		logging.Int("max_entries", cfg.MaxEntries()),
		logging.Duration("cleanup_interval", cfg.CleanupInterval()),
		logging.Duration("default_ttl", cfg.DefaultTTL()))

	// Scheduled warmup keeps a heartbeat entry fresh, proving the write path
	// end to end; embedding platforms register their own entry sets here.
	if cfg.WarmupSchedule != "" {
		scheduler := warmup.NewScheduler(cacheService, logger)
		err := scheduler.Register("heartbeat", cfg.WarmupSchedule, []cache.WarmupEntry{
			{
				Namespace: "system",
				Key:       "warmup-heartbeat",
				Fetch: func(ctx context.Context) (interface{}, error) {
					return map[string]time.Time{"at": time.Now()}, nil
				},
				Strategy: cache.StrategyShort,
			},
		})
		if err != nil {
			log.Fatalf("Invalid WARMUP_SCHEDULE: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("Warmup: Scheduled", logging.String("schedule", cfg.WarmupSchedule))
	}

	// Set up routes
	h := handlers.New(cacheService)
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/cache").Subrouter()
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	admin := api.NewRoute().Subrouter()
	admin.HandleFunc("/entries/{namespace}/{key}", h.DeleteEntry).Methods("DELETE")
	admin.HandleFunc("/tags/{tag}/invalidate", h.InvalidateTag).Methods("POST")
	admin.HandleFunc("/namespaces/{namespace}/invalidate", h.InvalidateNamespace).Methods("POST")
	if cfg.AdminJWTSecret != "" {
		admin.Use(auth.New(cfg.AdminJWTSecret).RequireAuth)
		logger.Info("Admin API: Authentication enabled")
	} else {
		logger.Warn("Admin API: Running without authentication")
	}

	// Start the server
	srv := server.New(router, cfg.Port)
	errCh := srv.Start()
	logger.Info("Server: Started", logging.String("port", cfg.Port))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case <-quit:
	}
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
}
