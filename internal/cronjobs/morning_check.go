package cronjobs

import (
	"fmt"

	"github.com/rs/zerolog"
)

// WorkerRefresher wakes a named worker for an immediate cycle. The
// supervisor satisfies it.
type WorkerRefresher interface {
	RefreshWorker(name string) error
}

// AlertRedeliverer retries alerts that never got a delivery receipt. The
// alert service satisfies it.
type AlertRedeliverer interface {
	RedeliverUnsent(limit int) (int, error)
}

const redeliveryBatchSize = 20

// MorningCheckJob kicks the market worker ten minutes into the session so
// the day's regime row exists before position checks lean on it. The
// worker's own cadence would get there eventually; this pins the time.
// It also retries any alerts whose delivery failed overnight, now that
// someone is at the desk to read them.
type MorningCheckJob struct {
	log     zerolog.Logger
	workers WorkerRefresher
	worker  string
	alerts  AlertRedeliverer
}

// NewMorningCheckJob creates the job. worker is the registered name of
// the market worker; alerts may be nil when no notifier is configured.
func NewMorningCheckJob(workers WorkerRefresher, worker string, alerts AlertRedeliverer, log zerolog.Logger) *MorningCheckJob {
	return &MorningCheckJob{
		log:     log.With().Str("job", "morning_check").Logger(),
		workers: workers,
		worker:  worker,
		alerts:  alerts,
	}
}

// Name returns the job name.
func (j *MorningCheckJob) Name() string {
	return "morning_check"
}

// Run wakes the market worker and sweeps the unsent alert backlog.
func (j *MorningCheckJob) Run() error {
	if err := j.workers.RefreshWorker(j.worker); err != nil {
		return fmt.Errorf("failed to refresh market worker: %w", err)
	}
	j.log.Info().Str("worker", j.worker).Msg("Morning market check triggered")

	if j.alerts != nil {
		delivered, err := j.alerts.RedeliverUnsent(redeliveryBatchSize)
		if err != nil {
			return fmt.Errorf("failed to redeliver alerts: %w", err)
		}
		if delivered > 0 {
			j.log.Info().Int("delivered", delivered).Msg("Redelivered overnight alerts")
		}
	}
	return nil
}
