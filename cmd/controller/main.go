// Package main is the entry point for the opsplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/authz"
	"opsplane/internal/config"
	"opsplane/internal/controller"
	"opsplane/internal/controller/handlers"
	"opsplane/internal/controller/middleware"
	"opsplane/internal/logger"
	"opsplane/internal/notify"
	"opsplane/internal/observability"
	"opsplane/internal/operation"
	"opsplane/internal/store/postgres"
	"opsplane/internal/tasks"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres (the "Store")
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Run migrations if requested
	if *migrateFlag {
		logg.Info("running database migrations")
		version, err := postgres.Migrate(store.DB(), logg)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		logg.Info("migrations completed", "schema_version", version)
	}

	// Tracing
	serviceName := cfg.Service("opsplane-controller")
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:   serviceName,
		CollectorAddr: cfg.OTELEndpoint,
		SampleRatio:   cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, serviceName)
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Authorization and periodic tasks
	gate, err := authz.LoadGate(ctx, cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load authorization policy: %v", err)
	}
	registry, err := tasks.Load(cfg.TasksFile)
	if err != nil {
		log.Fatalf("Failed to load task registry: %v", err)
	}

	// Push transports
	transports, err := notify.Dial(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to open push transports: %v", err)
	}
	defer transports.Close()
	strategies := operation.NewStrategyCache(transports.Provider(store), cfg.StrategyCacheTTL, logg)

	manager := operation.NewManager(store, gate, registry, strategies, operation.Config{
		DefaultBatchSize: cfg.SchedulerBatchSize,
	}, logg)

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatalf("Failed to init tokens: %v", err)
	}
	if cfg.InternalSecret == "" {
		log.Println("INTERNAL_SECRET is empty, internal endpoints will reject every request")
	}

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	h := handlers.New(store, manager, tokens, strategies, logg)
	srv := controller.New(controller.Config{
		Addr:           addr,
		InternalSecret: cfg.InternalSecret,
		Metrics:        metricsHandler,
		Limiter:        middleware.NewRateLimiter(middleware.WithRate(cfg.DevicePollRate, cfg.DevicePollBurst)),
	}, h, tokens, logg)

	go func() {
		log.Printf("OpsPlane Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
