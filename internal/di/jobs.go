package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/cronjobs"
	"github.com/aristath/slimwatch/internal/reliability"
)

// InitializeJobs creates the cron scheduler and registers the clock-driven
// work: the morning regime check, the watch-expiry sweep, database
// maintenance, and (when object storage is configured) the nightly backup.
// The expiry sweep also runs once immediately to catch up after downtime.
func InitializeJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.Supervisor == nil {
		return fmt.Errorf("workers must be initialized first")
	}

	scheduler := cronjobs.New(container.Calendar.Location(), log)

	morning := cronjobs.NewMorningCheckJob(container.Supervisor, "market", container.AlertService, log)
	if err := scheduler.AddJob(cronjobs.ScheduleMorningCheck, morning); err != nil {
		return fmt.Errorf("failed to schedule morning check: %w", err)
	}

	expiry := cronjobs.NewWatchExpiryJob(container.PositionsRepo, container.SettingsRepo, log)
	if err := scheduler.AddJob(cronjobs.ScheduleWatchExpiry, expiry); err != nil {
		return fmt.Errorf("failed to schedule watch expiry: %w", err)
	}
	// Watch windows that lapsed while the daemon was down are swept right
	// away instead of waiting for the evening firing.
	if err := scheduler.RunNow(expiry); err != nil {
		log.Warn().Err(err).Msg("Startup watch-expiry sweep failed")
	}

	maintenance := cronjobs.NewMaintenanceJob(container.DB, container.PositionsRepo, container.AlertsRepo, container.SettingsRepo, log)
	if err := scheduler.AddJob(cronjobs.ScheduleMaintenance, maintenance); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	if cfg.Backup.Enabled() {
		store, err := reliability.NewObjectStore(cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup object store: %w", err)
		}
		container.Backups = reliability.NewBackupService(store, container.DB, cfg.DataDir, cfg.Backup.RetentionDays, log)
		container.Backups.SetEventBus(container.Bus)

		backup := cronjobs.NewBackupJob(container.Backups, log)
		if err := scheduler.AddJob(cronjobs.ScheduleBackup, backup); err != nil {
			return fmt.Errorf("failed to schedule backup: %w", err)
		}
	} else {
		log.Info().Msg("Backup storage not configured, nightly backups disabled")
	}

	container.Scheduler = scheduler
	return nil
}
