// Package workers contains the long-lived monitoring loops: breakout
// scanning over the watchlist, held-position checks, and the market
// regime refresh. All three share one base loop whose counters the
// supervisor reads.
package workers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/alerts"
)

// Worker states reported through Stats.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateWaiting = "waiting"
	StateError   = "error"
	StateStopped = "stopped"
)

// maxOffHoursSleep caps the closed-market sleep so a loop still wakes
// periodically for refresh commands and weekend watchlist edits.
const maxOffHoursSleep = 30 * time.Minute

// Stats is a point-in-time snapshot of one worker's counters.
type Stats struct {
	Name              string     `json:"name"`
	State             string     `json:"state"`
	MessagesProcessed int64      `json:"messages_processed"`
	Errors            int64      `json:"errors"`
	LastCheck         *time.Time `json:"last_check,omitempty"`
}

// Worker is the lifecycle surface the supervisor drives.
type Worker interface {
	Name() string
	Start()
	Stop()
	Refresh()
	Stats() Stats
}

// MarketCalendar is the slice of the trading calendar the loops consult.
// *calendar.Calendar satisfies it.
type MarketCalendar interface {
	Location() *time.Location
	IsTradingDay(date time.Time) bool
	IsMarketOpen(t time.Time) bool
	SecondsUntilOpen(now time.Time) int
	SecondsUntilClose(now time.Time) int
	MarketHours(date time.Time) (open, close time.Time, ok bool)
}

// AlertRouter accepts checker output for persistence and delivery. The
// alerts service satisfies it.
type AlertRouter interface {
	Emit(data domain.AlertData) (*alerts.Alert, error)
}

// base carries the loop mechanics every worker shares: cadence, stop and
// refresh channels, a per-cycle recover fence, and counters behind a
// mutex. The owning worker supplies runCycle before Start.
type base struct {
	name     string
	interval time.Duration
	cal      MarketCalendar
	bus      *events.Bus
	log      zerolog.Logger
	now      func() time.Time

	// runCycle is one full pass over the worker's target set.
	runCycle func() error

	// offHoursInterval, when non-zero, keeps the loop ticking at a
	// reduced cadence while the market is closed instead of sleeping
	// until the next open.
	offHoursInterval time.Duration

	refresh chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	state     string
	processed int64
	errs      int64
	lastCheck time.Time
	started   bool
}

func newBase(name string, interval time.Duration, cal MarketCalendar, bus *events.Bus, log zerolog.Logger) *base {
	return &base{
		name:     name,
		interval: interval,
		cal:      cal,
		bus:      bus,
		log:      log.With().Str("worker", name).Logger(),
		now:      time.Now,
		refresh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		state:    StateIdle,
	}
}

// Name returns the worker's registry key.
func (b *base) Name() string { return b.name }

// Start launches the loop goroutine. A second Start is a no-op.
func (b *base) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		b.log.Warn().Msg("Worker already started, ignoring")
		return
	}
	b.started = true
	b.mu.Unlock()

	b.log.Info().Dur("interval", b.interval).Msg("Worker started")
	go b.run()
}

// Stop signals the loop and blocks until the in-flight cycle finishes.
// Safe to call more than once; a Stop before Start returns immediately.
func (b *base) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	b.mu.Unlock()

	<-b.stopped
}

// Refresh wakes the loop for an immediate cycle. Non-blocking; a second
// refresh while one is pending folds into it.
func (b *base) Refresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the counters.
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Name:              b.name,
		State:             b.state,
		MessagesProcessed: b.processed,
		Errors:            b.errs,
	}
	if !b.lastCheck.IsZero() {
		t := b.lastCheck
		s.LastCheck = &t
	}
	return s
}

func (b *base) run() {
	defer close(b.stopped)

	// First pass immediately so a restart repopulates state without
	// waiting out a full interval.
	b.cycle()

	for {
		timer := time.NewTimer(b.nextWait())
		b.setState(StateWaiting)
		select {
		case <-b.stop:
			timer.Stop()
			b.setState(StateStopped)
			b.log.Info().Msg("Worker stopped")
			return
		case <-b.refresh:
			timer.Stop()
			b.log.Debug().Msg("Woken by refresh")
		case <-timer.C:
		}
		b.cycle()
	}
}

// nextWait picks the sleep before the next cycle. With the market closed
// the loop sleeps toward the next open, capped so it still observes
// refresh and stop, unless the worker keeps an off-hours cadence.
func (b *base) nextWait() time.Duration {
	now := b.now()
	if b.cal == nil || b.cal.IsMarketOpen(now) {
		return b.interval
	}
	if b.offHoursInterval > 0 {
		return b.offHoursInterval
	}
	wait := time.Duration(b.cal.SecondsUntilOpen(now)) * time.Second
	if wait <= 0 || wait > maxOffHoursSleep {
		return maxOffHoursSleep
	}
	return wait
}

func (b *base) cycle() {
	b.setState(StateRunning)
	err := b.safeCycle()

	b.mu.Lock()
	b.lastCheck = b.now()
	if err != nil {
		b.errs++
	}
	b.mu.Unlock()

	if err != nil {
		b.setState(StateError)
		b.log.Error().Err(err).Msg("Worker cycle failed")
	}
}

// safeCycle runs one pass behind a recover fence so a panicking rule
// cannot kill the loop.
func (b *base) safeCycle() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	if b.runCycle == nil {
		return nil
	}
	return b.runCycle()
}

// setState updates the reported state and publishes the change. Setting
// the same state again is silent.
func (b *base) setState(state string) {
	b.mu.Lock()
	if b.state == state {
		b.mu.Unlock()
		return
	}
	b.state = state
	b.mu.Unlock()

	if b.bus != nil {
		b.bus.EmitData("workers", &events.WorkerStatusChangedData{
			Worker: b.name,
			Status: state,
		})
	}
}

// shuttingDown lets cycle bodies observe Stop between targets.
func (b *base) shuttingDown() bool {
	select {
	case <-b.stop:
		return true
	default:
		return false
	}
}

// addProcessed counts evaluated targets.
func (b *base) addProcessed(n int64) {
	b.mu.Lock()
	b.processed += n
	b.mu.Unlock()
}

// addError counts a per-target failure that did not abort the cycle.
func (b *base) addError() {
	b.mu.Lock()
	b.errs++
	b.mu.Unlock()
}

// routeAlerts pushes checker output through the alert service. Emission
// failures are counted, never fatal to the cycle.
func routeAlerts(router AlertRouter, b *base, out []domain.AlertData) {
	for _, a := range out {
		if _, err := router.Emit(a); err != nil {
			b.addError()
			b.log.Error().Err(err).
				Str("symbol", a.Symbol).
				Str("type", a.Type).
				Str("subtype", a.Subtype).
				Msg("Alert emission failed")
		}
	}
}
