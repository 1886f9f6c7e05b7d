package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/server"
)

// InitializeServer builds the HTTP API over the wired repositories,
// services, and supervisor. It never fails: every dependency is already
// validated.
func InitializeServer(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.Server = server.New(server.Deps{
		Log:            log,
		Port:           cfg.Port,
		DB:             container.DB,
		Positions:      container.PositionsRepo,
		PositionWrites: container.PositionsRepo,
		Alerts:         container.AlertService,
		Regime:         container.RegimeService,
		Supervisor:     container.Supervisor,
		Scorer:         container.Scorer,
		Settings:       container.SettingsService,
		Signals:        container.Signals,
		Outcomes:       container.OutcomesRepo,
		Bus:            container.Bus,
	})
}
