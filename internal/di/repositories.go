package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/outcomes"
	"github.com/aristath/slimwatch/internal/modules/positions"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/settings"
)

// InitializeRepositories creates the data access layer and overlays the
// settings table onto the environment configuration. Settings must come
// first: the overlay and every later step read through it.
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.DB == nil {
		return fmt.Errorf("storage must be initialized first")
	}

	conn := container.DB.Conn()

	container.SettingsRepo = settings.NewRepository(conn, log)

	container.PositionsRepo = positions.NewRepository(conn, log)
	container.PositionsRepo.SetEventBus(container.Bus)

	container.AlertsRepo = alerts.NewRepository(conn, log)
	container.RegimeRepo = regime.NewRepository(conn, log)
	container.OutcomesRepo = outcomes.NewRepository(conn, log)

	// Runtime edits in the settings table win over environment values.
	if err := cfg.UpdateFromSettings(container.SettingsRepo); err != nil {
		return fmt.Errorf("failed to overlay settings onto config: %w", err)
	}

	if total, err := container.PositionsRepo.Count(); err == nil {
		log.Info().Int("positions", total).Msg("Position store opened")
	}

	return nil
}
