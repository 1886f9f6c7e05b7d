package cronjobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/database"
)

// defaultSnapshotRetentionDays is how much daily snapshot history the
// nightly prune keeps.
const defaultSnapshotRetentionDays = 365

// defaultAlertRetentionDays is how long acknowledged alerts stay around.
const defaultAlertRetentionDays = 90

// maintenanceTimeout bounds the integrity check.
const maintenanceTimeout = 5 * time.Minute

// vacuumWeekday is the night the full VACUUM runs, after the prunes have
// freed pages. The other nights leave space reclamation to the database's
// incremental auto-vacuum.
const vacuumWeekday = time.Sunday

// SnapshotPruner deletes snapshot rows older than the retention window.
// The positions repository satisfies it.
type SnapshotPruner interface {
	PruneSnapshots(keepDays int) (int64, error)
}

// AlertPruner deletes acknowledged alerts older than the retention
// window. The alerts repository satisfies it.
type AlertPruner interface {
	PruneOlderThan(keepDays int) (int64, error)
}

// MaintenanceJob runs the nightly database upkeep: truncate the WAL,
// verify integrity, and prune old position snapshots and acknowledged
// alerts.
type MaintenanceJob struct {
	log      zerolog.Logger
	db       *database.DB
	pruner   SnapshotPruner
	alerts   AlertPruner
	settings ExpirySettings
	now      func() time.Time
}

// NewMaintenanceJob creates the job. pruner, alerts and settings may be
// nil; the corresponding step is skipped or defaulted.
func NewMaintenanceJob(db *database.DB, pruner SnapshotPruner, alerts AlertPruner, settings ExpirySettings, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		log:      log.With().Str("job", "maintenance").Logger(),
		db:       db,
		pruner:   pruner,
		alerts:   alerts,
		settings: settings,
		now:      time.Now,
	}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run performs the upkeep steps in order. The first failure aborts the
// job; the next night retries everything.
func (j *MaintenanceJob) Run() error {
	start := time.Now()

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	if err := j.db.QuickCheck(ctx); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}

	var pruned int64
	if j.pruner != nil {
		keepDays := defaultSnapshotRetentionDays
		if j.settings != nil {
			v, err := j.settings.GetInt("snapshot_retention_days", defaultSnapshotRetentionDays)
			if err == nil {
				keepDays = v
			}
		}
		n, err := j.pruner.PruneSnapshots(keepDays)
		if err != nil {
			return fmt.Errorf("failed to prune snapshots: %w", err)
		}
		pruned = n
	}

	var alertsPruned int64
	if j.alerts != nil {
		keepDays := defaultAlertRetentionDays
		if j.settings != nil {
			v, err := j.settings.GetInt("alert_retention_days", defaultAlertRetentionDays)
			if err == nil {
				keepDays = v
			}
		}
		n, err := j.alerts.PruneOlderThan(keepDays)
		if err != nil {
			return fmt.Errorf("failed to prune alerts: %w", err)
		}
		alertsPruned = n
	}

	vacuumed := false
	if j.now().Weekday() == vacuumWeekday {
		if err := j.db.Vacuum(); err != nil {
			return fmt.Errorf("vacuum failed: %w", err)
		}
		vacuumed = true
	}

	j.log.Info().
		Int64("snapshots_pruned", pruned).
		Int64("alerts_pruned", alertsPruned).
		Bool("vacuumed", vacuumed).
		Dur("took", time.Since(start)).
		Msg("Maintenance completed")
	return nil
}
