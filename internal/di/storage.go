package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/outcomes"
	"github.com/aristath/slimwatch/internal/modules/positions"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/settings"
)

// InitializeStorage opens the database and runs every module's schema
// migration. Schemas are idempotent, so a restart over an existing file
// is a no-op here.
func InitializeStorage(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	db, err := database.New(database.Config{
		Path: cfg.DatabasePath,
		Name: "slimwatch",
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	for _, schema := range []struct {
		name string
		init func() error
	}{
		{"settings", func() error { return settings.InitSchema(db.Conn()) }},
		{"positions", func() error { return positions.InitSchema(db.Conn()) }},
		{"alerts", func() error { return alerts.InitSchema(db.Conn()) }},
		{"regime", func() error { return regime.InitSchema(db.Conn()) }},
		{"outcomes", func() error { return outcomes.InitSchema(db.Conn()) }},
	} {
		if err := schema.init(); err != nil {
			db.Close()
			return fmt.Errorf("failed to initialize %s schema: %w", schema.name, err)
		}
	}

	container.DB = db
	log.Info().Str("path", db.Path()).Msg("Database ready")
	return nil
}
