// Package main is the entry point for the riskboard service. It serves portfolio
// exposure, factor and stress endpoints and runs the nightly risk batch.
//
// The service uses a 3-database architecture:
// - portfolio.db: portfolios, positions, daily snapshots, factor exposures, stress results
// - history.db: daily closing prices
// - cache.db: TTL cache for quotes and factor correlation matrices
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/di"
	overviewhandlers "github.com/aristath/riskboard/internal/modules/overview/handlers"
	portfoliohandlers "github.com/aristath/riskboard/internal/modules/portfolio/handlers"
	snapshothandlers "github.com/aristath/riskboard/internal/modules/snapshots/handlers"
	"github.com/aristath/riskboard/internal/scheduler"
	"github.com/aristath/riskboard/internal/server"
	"github.com/aristath/riskboard/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting riskboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, jobs, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Closing flushes WAL checkpoints
	defer container.Close()

	sched := scheduler.New(log)
	if err := di.RegisterJobs(sched, jobs, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	checkers := make([]server.HealthChecker, 0, 3)
	for _, db := range container.Databases() {
		checkers = append(checkers, db)
	}

	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Modules: []server.RouteRegistrar{
			overviewhandlers.NewHandler(container.OverviewService, log),
			portfoliohandlers.NewHandler(container.PortfolioRepo, container.PositionRepo, log),
			snapshothandlers.NewHandler(container.PortfolioRepo, container.SnapshotRepo, log),
		},
		System:  server.NewSystemHandlers(checkers, container.BatchOrchestrator, log),
		Metrics: container.Metrics.Handler(),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting new scheduled runs and cancel in-flight ones before closing databases
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
