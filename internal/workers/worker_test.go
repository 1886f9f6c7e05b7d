package workers

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/modules/alerts"
)

// fakeCalendar satisfies MarketCalendar with fixed answers.
type fakeCalendar struct {
	open         bool
	tradingDay   bool
	untilOpen    int
	untilClose   int
	sessionOpen  time.Time
	sessionClose time.Time
	hoursOK      bool
	loc          *time.Location
}

func (c *fakeCalendar) Location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	return time.UTC
}
func (c *fakeCalendar) IsTradingDay(time.Time) bool    { return c.tradingDay }
func (c *fakeCalendar) IsMarketOpen(time.Time) bool    { return c.open }
func (c *fakeCalendar) SecondsUntilOpen(time.Time) int { return c.untilOpen }
func (c *fakeCalendar) SecondsUntilClose(time.Time) int {
	return c.untilClose
}
func (c *fakeCalendar) MarketHours(time.Time) (time.Time, time.Time, bool) {
	return c.sessionOpen, c.sessionClose, c.hoursOK
}

// fakeRouter records everything emitted through it.
type fakeRouter struct {
	mu      sync.Mutex
	err     error
	emitted []domain.AlertData
}

func (r *fakeRouter) Emit(data domain.AlertData) (*alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.emitted = append(r.emitted, data)
	return &alerts.Alert{ID: "test", Symbol: data.Symbol, Type: data.Type, Subtype: data.Subtype}, nil
}

func (r *fakeRouter) all() []domain.AlertData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AlertData, len(r.emitted))
	copy(out, r.emitted)
	return out
}

// waitUntil polls a condition with a hard deadline so loop tests cannot
// hang or flake on scheduler jitter.
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func TestWorkerLoopRunsOnCadence(t *testing.T) {
	var cycles atomic.Int64
	b := newBase("test", 10*time.Millisecond, &fakeCalendar{open: true}, nil, zerolog.Nop())
	b.runCycle = func() error {
		cycles.Add(1)
		b.addProcessed(1)
		return nil
	}

	b.Start()
	waitUntil(t, func() bool { return cycles.Load() >= 3 }, "three cycles")
	b.Stop()

	stats := b.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, StateStopped, stats.State)
	assert.GreaterOrEqual(t, stats.MessagesProcessed, int64(3))
	assert.Equal(t, int64(0), stats.Errors)
	require.NotNil(t, stats.LastCheck)
}

func TestWorkerRefreshWakesLoop(t *testing.T) {
	var cycles atomic.Int64
	b := newBase("test", time.Hour, &fakeCalendar{open: true}, nil, zerolog.Nop())
	b.runCycle = func() error {
		cycles.Add(1)
		return nil
	}

	b.Start()
	defer b.Stop()

	// First pass runs immediately on start.
	waitUntil(t, func() bool { return cycles.Load() == 1 }, "startup cycle")

	b.Refresh()
	waitUntil(t, func() bool { return cycles.Load() == 2 }, "refresh-triggered cycle")
}

func TestWorkerLoopSurvivesPanics(t *testing.T) {
	var cycles atomic.Int64
	b := newBase("test", 10*time.Millisecond, &fakeCalendar{open: true}, nil, zerolog.Nop())
	b.runCycle = func() error {
		cycles.Add(1)
		panic("checker exploded")
	}

	b.Start()
	waitUntil(t, func() bool { return cycles.Load() >= 2 }, "loop outlives a panic")
	b.Stop()

	stats := b.Stats()
	assert.Equal(t, StateStopped, stats.State)
	assert.GreaterOrEqual(t, stats.Errors, int64(2))
}

func TestWorkerCycleErrorsCounted(t *testing.T) {
	b := newBase("test", time.Hour, &fakeCalendar{open: true}, nil, zerolog.Nop())
	b.runCycle = func() error { return errors.New("provider down") }

	b.Start()
	waitUntil(t, func() bool { return b.Stats().Errors == 1 }, "startup cycle error")
	b.Stop()
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	b := newBase("test", time.Hour, &fakeCalendar{open: true}, nil, zerolog.Nop())
	b.runCycle = func() error { return nil }

	// Stop before Start must not block.
	b.Stop()

	b.Start()
	b.Stop()
	b.Stop()
	assert.Equal(t, StateStopped, b.Stats().State)
}

func TestNextWait(t *testing.T) {
	cases := []struct {
		name             string
		open             bool
		untilOpen        int
		offHoursInterval time.Duration
		want             time.Duration
	}{
		{name: "market open uses interval", open: true, want: time.Minute},
		{name: "closed sleeps toward the open", untilOpen: 120, want: 2 * time.Minute},
		{name: "long closures capped", untilOpen: 7200, want: maxOffHoursSleep},
		{name: "zero until-open falls back to cap", untilOpen: 0, want: maxOffHoursSleep},
		{name: "backfill cadence wins when configured", untilOpen: 7200, offHoursInterval: time.Hour, want: time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBase("test", time.Minute, &fakeCalendar{open: tc.open, untilOpen: tc.untilOpen}, nil, zerolog.Nop())
			b.offHoursInterval = tc.offHoursInterval
			assert.Equal(t, tc.want, b.nextWait())
		})
	}
}

func TestRouteAlertsCountsEmissionFailures(t *testing.T) {
	b := newBase("test", time.Minute, nil, nil, zerolog.Nop())
	router := &fakeRouter{err: errors.New("db locked")}

	routeAlerts(router, b, []domain.AlertData{
		{Symbol: "NVDA", Type: domain.AlertTypeStop, Subtype: domain.SubtypeHardStop},
		{Symbol: "NVDA", Type: domain.AlertTypeProfit, Subtype: domain.SubtypeTP1},
	})

	assert.Equal(t, int64(2), b.Stats().Errors)
}
