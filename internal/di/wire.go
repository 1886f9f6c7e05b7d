package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/events"
)

// Wire builds the full application graph in dependency order:
//
//  1. storage (database plus schemas)
//  2. repositories (and the settings overlay onto config)
//  3. services (clients, scorer, alert and regime services)
//  4. workers (the three loops, registered with the supervisor)
//  5. jobs (cron schedules, backups)
//  6. HTTP server
//
// A failed step closes whatever earlier steps opened and returns the
// error; a Container is only returned fully wired.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{
		Bus: events.NewBus(log),
	}

	if err := InitializeStorage(container, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := InitializeRepositories(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := InitializeWorkers(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	if err := InitializeJobs(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	InitializeServer(container, cfg, log)

	log.Info().Msg("Dependency wiring completed")
	return container, nil
}
