package cronjobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// backupTimeout bounds one backup run end to end, upload included.
const backupTimeout = 10 * time.Minute

// BackupRunner produces and ships one backup archive. The reliability
// backup service satisfies it.
type BackupRunner interface {
	Run(ctx context.Context) error
}

// BackupJob runs the nightly off-site backup, half an hour after
// maintenance so it archives a freshly checkpointed database.
type BackupJob struct {
	log     zerolog.Logger
	backups BackupRunner
}

// NewBackupJob creates the job.
func NewBackupJob(backups BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		log:     log.With().Str("job", "backup").Logger(),
		backups: backups,
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes one backup cycle.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if err := j.backups.Run(ctx); err != nil {
		return fmt.Errorf("backup run failed: %w", err)
	}
	return nil
}
