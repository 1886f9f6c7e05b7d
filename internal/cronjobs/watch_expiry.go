package cronjobs

import (
	"fmt"

	"github.com/rs/zerolog"
)

// defaultWatchExpiryDays is how long a stopped-out position may sit in
// the watching-exited state before the sweep archives it.
const defaultWatchExpiryDays = 60

// WatchExpirer bulk-archives stale watching-exited positions. The
// positions repository satisfies it.
type WatchExpirer interface {
	ExpireWatchingExited(maxDays int) (int, error)
}

// ExpirySettings supplies the override for the expiry window. The
// settings repository satisfies it.
type ExpirySettings interface {
	GetInt(key string, defaultValue int) (int, error)
}

// WatchExpiryJob runs the nightly sweep that moves positions which sat in
// watching-exited past the window to closed.
type WatchExpiryJob struct {
	log       zerolog.Logger
	positions WatchExpirer
	settings  ExpirySettings
}

// NewWatchExpiryJob creates the job. settings may be nil, in which case
// the default window applies.
func NewWatchExpiryJob(positions WatchExpirer, settings ExpirySettings, log zerolog.Logger) *WatchExpiryJob {
	return &WatchExpiryJob{
		log:       log.With().Str("job", "watch_expiry").Logger(),
		positions: positions,
		settings:  settings,
	}
}

// Name returns the job name.
func (j *WatchExpiryJob) Name() string {
	return "watch_expiry"
}

// Run archives every watching-exited position older than the window.
func (j *WatchExpiryJob) Run() error {
	days := defaultWatchExpiryDays
	if j.settings != nil {
		v, err := j.settings.GetInt("watch_expiry_days", defaultWatchExpiryDays)
		if err != nil {
			j.log.Warn().Err(err).Msg("Failed to read expiry window, using default")
		} else {
			days = v
		}
	}

	n, err := j.positions.ExpireWatchingExited(days)
	if err != nil {
		return fmt.Errorf("failed to expire watching-exited positions: %w", err)
	}
	if n > 0 {
		j.log.Info().Int("expired", n).Int("max_days", days).Msg("Watching-exited positions archived")
	}
	return nil
}
