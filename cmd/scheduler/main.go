// Package main is the entry point for the opsplane scheduler.
// The scheduler pushes mappings flagged for batch delivery and, when enabled,
// dispatches the periodic monitoring tasks.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"opsplane/internal/authz"
	"opsplane/internal/config"
	"opsplane/internal/logger"
	"opsplane/internal/notify"
	"opsplane/internal/observability"
	"opsplane/internal/operation"
	"opsplane/internal/scheduler"
	"opsplane/internal/store/postgres"
	"opsplane/internal/tasks"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	metricsAddr := flag.String("metrics-addr", ":6162", "Address of the metrics listener")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logg := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Tracing
	serviceName := cfg.Service("opsplane-scheduler")
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
	if err := scheduler.RegisterBacklogGauge(otel.Meter(serviceName), store); err != nil {
		log.Printf("Failed to register backlog metric: %v", err)
	}
	observability.ServeMetrics(ctx, *metricsAddr, metricsHandler, logg)

	gate, err := authz.LoadGate(ctx, cfg.PolicyFile)
	if err != nil {
		log.Fatalf("Failed to load authorization policy: %v", err)
	}
	registry, err := tasks.Load(cfg.TasksFile)
	if err != nil {
		log.Fatalf("Failed to load task registry: %v", err)
	}

	transports, err := notify.Dial(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to open push transports: %v", err)
	}
	defer transports.Close()
	strategies := operation.NewStrategyCache(transports.Provider(store), cfg.StrategyCacheTTL, logg)

	manager := operation.NewManager(store, gate, registry, strategies, operation.Config{
		DefaultBatchSize: cfg.SchedulerBatchSize,
	}, logg)

	pusher := scheduler.NewPusher(store, manager, scheduler.PusherConfig{
		ID:           uuid.NewString(),
		Concurrency:  cfg.SchedulerConcurrency,
		PollInterval: cfg.SchedulerPollInterval,
		MaxBackoff:   cfg.SchedulerMaxBackoff,
		ClaimLimit:   cfg.SchedulerClaimLimit,
	}, logg)

	log.Printf("Scheduler started with concurrency %d", cfg.SchedulerConcurrency)
	go pusher.Run(ctx)

	var monitor *scheduler.Monitor
	if cfg.MonitorEnabled {
		monitor = scheduler.NewMonitor(manager, store, registry, logg)
		log.Printf("Monitoring %d device types", len(registry.DeviceTypes()))
		go monitor.Run(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down scheduler...")
	cancel()

	<-pusher.Done()
	if monitor != nil {
		<-monitor.Done()
	}
}
