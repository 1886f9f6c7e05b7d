// Package calendar decides whether the US equity market is open and what
// hours apply on any given date. It prefers a remote status feed when one
// is configured and falls back to a deterministic hardcoded calendar on
// feed failure or for non-current queries.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	statusCacheTTL   = 60 * time.Second
	holidayCacheTTL  = time.Hour
	feedCallTimeout  = 5 * time.Second
	currentWindowMax = 2 * time.Minute
)

// StatusFeed is an optional remote market-status source. Both endpoints are
// cached; a failing feed downgrades the calendar to deterministic mode.
type StatusFeed interface {
	CurrentStatus(ctx context.Context) (open bool, session string, err error)
	UpcomingHolidays(ctx context.Context) ([]time.Time, error)
}

// Calendar answers market-hours questions for the US equity session.
// All computations happen in the exchange timezone (America/New_York).
type Calendar struct {
	loc  *time.Location
	feed StatusFeed
	log  zerolog.Logger

	mu            sync.RWMutex
	holidaysByYr  map[int]map[string]bool
	statusOpen    bool
	statusAt      time.Time
	feedHolidays  map[string]bool
	feedHolidayAt time.Time
	feedDegraded  bool
}

// New creates a calendar without a remote feed (deterministic only).
func New(log zerolog.Logger) *Calendar {
	return &Calendar{
		loc:          mustLoadLocation("America/New_York"),
		log:          log.With().Str("component", "calendar").Logger(),
		holidaysByYr: make(map[int]map[string]bool),
	}
}

// NewWithFeed creates a calendar backed by a remote status feed.
func NewWithFeed(feed StatusFeed, log zerolog.Logger) *Calendar {
	c := New(log)
	c.feed = feed
	return c
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("failed to load timezone " + name + ": " + err.Error())
	}
	return loc
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether the market trades at all on the given date.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := date.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.IsHoliday(d)
}

// IsHoliday reports whether the given date is a full market holiday.
func (c *Calendar) IsHoliday(date time.Time) bool {
	d := date.In(c.loc)
	key := d.Format("2006-01-02")

	if c.feedHolidaySet()[key] {
		return true
	}

	// A year's observed list can contain the prior December 31, so the
	// holiday sets of both the date's year and the following year apply.
	if c.holidaySet(d.Year())[key] {
		return true
	}
	return c.holidaySet(d.Year() + 1)[key]
}

// IsEarlyClose reports whether the market closes at 13:00 on the given date.
// Holidays and weekends are never early-close days.
func (c *Calendar) IsEarlyClose(date time.Time) bool {
	d := date.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	if c.IsHoliday(d) {
		return false
	}

	// Black Friday: the day after Thanksgiving.
	thanksgiving := findNthWeekday(d.Year(), 11, time.Thursday, 4)
	blackFriday := thanksgiving.AddDate(0, 0, 1)
	if sameDate(d, blackFriday) {
		return true
	}

	// July 3, when it lands on a weekday and is not itself the observed
	// Independence Day holiday.
	if d.Month() == time.July && d.Day() == 3 {
		return true
	}

	// Christmas Eve, when it lands on a weekday and is not itself the
	// observed Christmas holiday.
	if d.Month() == time.December && d.Day() == 24 {
		return true
	}

	return false
}

// MarketHours returns the session open and close for the given date.
// ok is false when the market is closed all day.
func (c *Calendar) MarketHours(date time.Time) (open, close time.Time, ok bool) {
	d := date.In(c.loc)
	if !c.IsTradingDay(d) {
		return time.Time{}, time.Time{}, false
	}

	open = time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, c.loc)
	if c.IsEarlyClose(d) {
		close = time.Date(d.Year(), d.Month(), d.Day(), 13, 0, 0, 0, c.loc)
	} else {
		close = time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, c.loc)
	}
	return open, close, true
}

// IsMarketOpen reports whether the market is open at the given moment.
// For the current moment a configured remote feed takes precedence; any
// other moment is answered deterministically.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if c.feed != nil && isCurrentMoment(t) {
		if open, ok := c.feedStatus(); ok {
			return open
		}
	}
	return c.isMarketOpenDeterministic(t)
}

func (c *Calendar) isMarketOpenDeterministic(t time.Time) bool {
	now := t.In(c.loc)
	open, close, ok := c.MarketHours(now)
	if !ok {
		return false
	}
	return !now.Before(open) && now.Before(close)
}

// NextTradingDay returns the first trading day strictly after the given date.
func (c *Calendar) NextTradingDay(date time.Time) time.Time {
	d := date.In(c.loc)
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
		}
	}
	// 30 consecutive closed days cannot happen on the US calendar.
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, c.loc)
}

// SecondsUntilOpen returns the seconds until the next session open, or 0
// when the market is already open.
func (c *Calendar) SecondsUntilOpen(now time.Time) int {
	t := now.In(c.loc)
	if c.isMarketOpenDeterministic(t) {
		return 0
	}

	if open, _, ok := c.MarketHours(t); ok && t.Before(open) {
		return int(open.Sub(t).Seconds())
	}

	next := c.NextTradingDay(t)
	open, _, _ := c.MarketHours(next)
	return int(open.Sub(t).Seconds())
}

// SecondsUntilClose returns the seconds until today's close, or 0 when the
// market is closed.
func (c *Calendar) SecondsUntilClose(now time.Time) int {
	t := now.In(c.loc)
	if !c.isMarketOpenDeterministic(t) {
		return 0
	}
	_, close, _ := c.MarketHours(t)
	return int(close.Sub(t).Seconds())
}

// holidaySet returns the cached observed-holiday set for a year.
func (c *Calendar) holidaySet(year int) map[string]bool {
	c.mu.RLock()
	set, ok := c.holidaysByYr[year]
	c.mu.RUnlock()
	if ok {
		return set
	}

	set = make(map[string]bool)
	for _, h := range usMarketHolidays(year) {
		set[h.Format("2006-01-02")] = true
	}

	c.mu.Lock()
	c.holidaysByYr[year] = set
	c.mu.Unlock()
	return set
}

// feedStatus returns the remote open/closed answer, serving a stale cache
// on transient feed errors. ok is false when no answer is available at all.
func (c *Calendar) feedStatus() (open bool, ok bool) {
	c.mu.RLock()
	fresh := !c.statusAt.IsZero() && time.Since(c.statusAt) < statusCacheTTL
	cachedOpen := c.statusOpen
	haveCache := !c.statusAt.IsZero()
	c.mu.RUnlock()

	if fresh {
		return cachedOpen, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), feedCallTimeout)
	defer cancel()

	liveOpen, _, err := c.feed.CurrentStatus(ctx)
	if err != nil {
		if haveCache {
			c.log.Warn().Err(err).Msg("Market status feed failed, serving stale cache")
			return cachedOpen, true
		}
		c.markDegraded(err)
		return false, false
	}

	c.mu.Lock()
	c.statusOpen = liveOpen
	c.statusAt = time.Now()
	c.feedDegraded = false
	c.mu.Unlock()
	return liveOpen, true
}

// feedHolidaySet returns the remote upcoming-holiday set, refreshed hourly.
func (c *Calendar) feedHolidaySet() map[string]bool {
	if c.feed == nil {
		return nil
	}

	c.mu.RLock()
	fresh := !c.feedHolidayAt.IsZero() && time.Since(c.feedHolidayAt) < holidayCacheTTL
	cached := c.feedHolidays
	c.mu.RUnlock()

	if fresh {
		return cached
	}

	ctx, cancel := context.WithTimeout(context.Background(), feedCallTimeout)
	defer cancel()

	days, err := c.feed.UpcomingHolidays(ctx)
	if err != nil {
		if cached != nil {
			c.log.Warn().Err(err).Msg("Holiday feed failed, serving stale cache")
			return cached
		}
		c.markDegraded(err)
		return nil
	}

	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[d.In(c.loc).Format("2006-01-02")] = true
	}

	c.mu.Lock()
	c.feedHolidays = set
	c.feedHolidayAt = time.Now()
	c.feedDegraded = false
	c.mu.Unlock()
	return set
}

// markDegraded logs the downgrade to deterministic mode once per transition.
func (c *Calendar) markDegraded(err error) {
	c.mu.Lock()
	already := c.feedDegraded
	c.feedDegraded = true
	c.mu.Unlock()

	if !already {
		c.log.Warn().Err(err).Msg("Market status feed unavailable, falling back to deterministic calendar")
	}
}

func isCurrentMoment(t time.Time) bool {
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	return d < currentWindowMax
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
