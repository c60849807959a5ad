package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tally-lab/project-tally/internal/cache"
	"github.com/tally-lab/project-tally/internal/compute"
	corecfg "github.com/tally-lab/project-tally/internal/core/config"
	"github.com/tally-lab/project-tally/internal/dataset"
	"github.com/tally-lab/project-tally/internal/ingestion"
	"github.com/tally-lab/project-tally/internal/migrations"
	"github.com/tally-lab/project-tally/internal/orchestrator"
	"github.com/tally-lab/project-tally/internal/report/postgres"
	"github.com/tally-lab/project-tally/internal/reports"
	"github.com/tally-lab/project-tally/internal/server"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Local development convenience; a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"server", fmtAddr(cfg.Server.Host, cfg.Server.Port),
		"cache_capacity", cfg.Cache.Capacity,
		"max_iterations", cfg.Orchestrator.MaxIterations)

	computeTimeout, err := cfg.Compute.EffectiveTimeout()
	if err != nil {
		slog.Error("Invalid compute timeout", "value", cfg.Compute.Timeout, "error", err)
		os.Exit(1)
	}
	cacheTTL, err := cfg.Cache.EffectiveTTL()
	if err != nil {
		slog.Error("Invalid cache TTL", "value", cfg.Cache.TTL, "error", err)
		os.Exit(1)
	}
	janitorInterval, err := cfg.Cache.EffectiveJanitorInterval()
	if err != nil {
		slog.Error("Invalid cache janitor interval", "value", cfg.Cache.JanitorInterval, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the result cache
	resultCache := cache.New(cfg.Cache.Capacity, cacheTTL)

	// 4. Initialize the compute backend client
	computeClient, err := compute.NewClient(compute.Config{
		BaseURL:    cfg.Compute.BaseURL,
		APIKey:     cfg.Compute.APIKey,
		Timeout:    computeTimeout,
		SampleSize: cfg.Compute.SampleSize,
	})
	if err != nil {
		slog.Error("Failed to initialize compute client", "error", err)
		os.Exit(1)
	}

	// 5. Initialize the orchestrator with validation profiles
	profiles, err := orchestrator.LoadProfiles(cfg.Orchestrator.ProfileDir)
	if err != nil {
		slog.Error("Failed to load validation profiles", "error", err)
		os.Exit(1)
	}
	orch := orchestrator.New(resultCache, dbAdapter, computeClient, profiles, cfg.Orchestrator.MaxIterations)

	// 6. Initialize HTTP services
	datasetRepo := dataset.NewMemoryRepository()
	ingestionSvc := ingestion.NewService(datasetRepo, cfg.Server.MaxBodySizeMB)
	reportsSvc := reports.NewService(datasetRepo, dbAdapter, resultCache, orch)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	reportsSvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expired entries are also dropped lazily on lookup; the janitor just
	// keeps memory bounded for idle fingerprints.
	go resultCache.StartJanitor(ctx, janitorInterval)

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
