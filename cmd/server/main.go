// Package main is the entry point for the slimwatch position monitoring
// service. It watches held and prospective stock positions against
// CAN-SLIM sell and entry rules, recalculates the market regime, and
// raises alerts when a rule fires.
//
// Startup order: configuration, logger, dependency graph, control
// socket, workers, cron scheduler, HTTP read API. Shutdown reverses it.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/di"
	"github.com/aristath/slimwatch/internal/supervisor"
	"github.com/aristath/slimwatch/pkg/logger"
)

// regimeBackfillDays is how much history a fresh install seeds: the
// 25-session distribution window plus margin for the 5-day trend.
const regimeBackfillDays = 45

func main() {
	// Load configuration first to get log level
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
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting slimwatch")

	// Wire all dependencies: database, repositories, services, workers,
	// cron jobs and the HTTP server. Settings stored in the database are
	// overlaid onto the config during wiring.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Shutdown requests converge on one path: SIGINT/SIGTERM from the OS
	// and SHUTDOWN over the control socket.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ipcQuit := make(chan struct{})
	var once sync.Once
	requestShutdown := func() {
		once.Do(func() { close(ipcQuit) })
	}

	ipc := supervisor.NewIPCServer(cfg.IPCSocketPath, container.Supervisor, requestShutdown, log)

	// Workers start before the control surfaces so the first STATUS call
	// already sees them running. The market worker runs its first cycle
	// immediately and fills the regime cell the scanners read.
	container.Supervisor.Start()

	if err := ipc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start IPC server")
	}

	container.Scheduler.Start()

	// A fresh database has no regime history, which blanks the 5-day
	// distribution trend until a week of live cycles has passed. Backfill
	// the recent window in the background; the seeder skips any dates the
	// market worker writes first.
	seedCtx, seedCancel := context.WithCancel(context.Background())
	go backfillRegimeHistory(seedCtx, container, log)

	// Start server in goroutine so the main thread can wait on signals.
	go func() {
		if err := container.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ipcQuit:
		log.Info().Msg("Shutdown requested via control socket")
	}

	log.Info().Msg("Shutting down...")

	// Stop order is the reverse of startup: no new cron runs, workers
	// drained, in-flight HTTP requests finished, control socket closed.
	seedCancel()
	container.Scheduler.Stop()
	container.Supervisor.Stop(30 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	ipc.Stop()

	log.Info().Msg("Shutdown complete")
}

// backfillRegimeHistory seeds the regime table when it is empty. Bar
// fetches are paced upstream, so a first boot spends a minute or two
// here; every later boot is a single no-op read.
func backfillRegimeHistory(ctx context.Context, container *di.Container, log zerolog.Logger) {
	current, err := container.RegimeRepo.GetCurrent()
	if err != nil {
		log.Warn().Err(err).Msg("Could not check regime history, skipping backfill")
		return
	}
	if current != nil {
		return
	}

	to := time.Now()
	written, err := container.RegimeSeeder.Seed(ctx, to.AddDate(0, 0, -regimeBackfillDays), to)
	if err != nil {
		log.Warn().Err(err).Int("written", written).Msg("Regime history backfill incomplete")
		return
	}
	log.Info().Int("days", written).Msg("Regime history backfilled")
}
