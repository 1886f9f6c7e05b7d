package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCalendar() *Calendar {
	return New(zerolog.Nop())
}

func etDate(year int, month time.Month, day, hour, min int) time.Time {
	loc := mustLoadLocation("America/New_York")
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func TestCalculateGoodFriday(t *testing.T) {
	tests := []struct {
		year     int
		expected time.Time
	}{
		{2020, time.Date(2020, 4, 10, 0, 0, 0, 0, time.UTC)},
		{2021, time.Date(2021, 4, 2, 0, 0, 0, 0, time.UTC)},
		{2022, time.Date(2022, 4, 15, 0, 0, 0, 0, time.UTC)},
		{2023, time.Date(2023, 4, 7, 0, 0, 0, 0, time.UTC)},
		{2024, time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)},
		{2025, time.Date(2025, 4, 18, 0, 0, 0, 0, time.UTC)},
		{2026, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)},
		{2027, time.Date(2027, 3, 26, 0, 0, 0, 0, time.UTC)},
		{2028, time.Date(2028, 4, 14, 0, 0, 0, 0, time.UTC)},
		{2029, time.Date(2029, 3, 30, 0, 0, 0, 0, time.UTC)},
		{2030, time.Date(2030, 4, 19, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expected.Format("2006-01-02"), func(t *testing.T) {
			result := calculateGoodFriday(tt.year)
			if !result.Equal(tt.expected) {
				t.Errorf("calculateGoodFriday(%d) = %v, want %v", tt.year, result, tt.expected)
			}
			if result.Weekday() != time.Friday {
				t.Errorf("Good Friday should be on Friday, got %v", result.Weekday())
			}
		})
	}
}

func TestIsHoliday(t *testing.T) {
	cal := newTestCalendar()

	holidays := []time.Time{
		etDate(2025, time.January, 1, 0, 0),   // New Year's Day
		etDate(2025, time.January, 20, 0, 0),  // MLK Day
		etDate(2025, time.February, 17, 0, 0), // Presidents Day
		etDate(2025, time.April, 18, 0, 0),    // Good Friday
		etDate(2025, time.May, 26, 0, 0),      // Memorial Day
		etDate(2025, time.June, 19, 0, 0),     // Juneteenth
		etDate(2025, time.July, 4, 0, 0),      // Independence Day
		etDate(2025, time.September, 1, 0, 0), // Labor Day
		etDate(2025, time.November, 27, 0, 0), // Thanksgiving
		etDate(2025, time.December, 25, 0, 0), // Christmas
		etDate(2026, time.July, 3, 0, 0),      // July 4 2026 is Saturday, observed Friday
		etDate(2022, time.June, 20, 0, 0),     // Juneteenth 2022 is Sunday, observed Monday
		etDate(2021, time.December, 31, 0, 0), // New Year 2022 is Saturday, observed prior Friday
	}
	for _, d := range holidays {
		if !cal.IsHoliday(d) {
			t.Errorf("expected %s to be a holiday", d.Format("2006-01-02"))
		}
	}

	notHolidays := []time.Time{
		etDate(2025, time.August, 19, 0, 0),
		etDate(2021, time.June, 18, 0, 0), // Juneteenth not observed before 2022
		etDate(2025, time.November, 28, 0, 0),
	}
	for _, d := range notHolidays {
		if cal.IsHoliday(d) {
			t.Errorf("expected %s not to be a holiday", d.Format("2006-01-02"))
		}
	}
}

func TestIsEarlyClose(t *testing.T) {
	cal := newTestCalendar()

	tests := []struct {
		name     string
		date     time.Time
		expected bool
	}{
		{"black friday 2025", etDate(2025, time.November, 28, 0, 0), true},
		{"july 3 2025 thursday", etDate(2025, time.July, 3, 0, 0), true},
		{"christmas eve 2025 wednesday", etDate(2025, time.December, 24, 0, 0), true},
		{"july 3 2026 is observed holiday", etDate(2026, time.July, 3, 0, 0), false},
		{"christmas eve 2022 saturday", etDate(2022, time.December, 24, 0, 0), false},
		{"plain tuesday", etDate(2025, time.August, 19, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsEarlyClose(tt.date); got != tt.expected {
				t.Errorf("IsEarlyClose(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.expected)
			}
		})
	}
}

func TestMarketHours(t *testing.T) {
	cal := newTestCalendar()

	open, closeAt, ok := cal.MarketHours(etDate(2025, time.August, 19, 0, 0))
	if !ok {
		t.Fatal("expected regular Tuesday to be a trading day")
	}
	if open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("expected 09:30 open, got %s", open.Format("15:04"))
	}
	if closeAt.Hour() != 16 || closeAt.Minute() != 0 {
		t.Errorf("expected 16:00 close, got %s", closeAt.Format("15:04"))
	}

	_, closeAt, ok = cal.MarketHours(etDate(2025, time.November, 28, 0, 0))
	if !ok {
		t.Fatal("expected Black Friday to be a trading day")
	}
	if closeAt.Hour() != 13 || closeAt.Minute() != 0 {
		t.Errorf("expected 13:00 early close, got %s", closeAt.Format("15:04"))
	}

	if _, _, ok := cal.MarketHours(etDate(2025, time.December, 25, 0, 0)); ok {
		t.Error("expected Christmas to have no market hours")
	}
	if _, _, ok := cal.MarketHours(etDate(2025, time.August, 23, 0, 0)); ok {
		t.Error("expected Saturday to have no market hours")
	}
}

func TestIsMarketOpenDeterministic(t *testing.T) {
	cal := newTestCalendar()

	tests := []struct {
		name     string
		now      time.Time
		expected bool
	}{
		{"mid session", etDate(2025, time.August, 19, 10, 0), true},
		{"before open", etDate(2025, time.August, 19, 9, 29), false},
		{"at open", etDate(2025, time.August, 19, 9, 30), true},
		{"at close", etDate(2025, time.August, 19, 16, 0), false},
		{"saturday", etDate(2025, time.August, 23, 11, 0), false},
		{"holiday", etDate(2025, time.December, 25, 11, 0), false},
		{"early close before 13", etDate(2025, time.November, 28, 12, 30), true},
		{"early close after 13", etDate(2025, time.November, 28, 13, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsMarketOpen(tt.now); got != tt.expected {
				t.Errorf("IsMarketOpen(%s) = %v, want %v", tt.now.Format("2006-01-02 15:04"), got, tt.expected)
			}
		})
	}
}

func TestNextTradingDay(t *testing.T) {
	cal := newTestCalendar()

	tests := []struct {
		name     string
		from     time.Time
		expected string
	}{
		{"friday to monday", etDate(2025, time.August, 22, 0, 0), "2025-08-25"},
		{"skips christmas", etDate(2025, time.December, 24, 0, 0), "2025-12-26"},
		{"skips thanksgiving", etDate(2025, time.November, 26, 0, 0), "2025-11-28"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.NextTradingDay(tt.from).Format("2006-01-02")
			if got != tt.expected {
				t.Errorf("NextTradingDay(%s) = %s, want %s", tt.from.Format("2006-01-02"), got, tt.expected)
			}
		})
	}
}

func TestSecondsUntilOpenAndClose(t *testing.T) {
	cal := newTestCalendar()

	// 09:00 on a trading day: 30 minutes to open.
	if got := cal.SecondsUntilOpen(etDate(2025, time.August, 19, 9, 0)); got != 1800 {
		t.Errorf("SecondsUntilOpen = %d, want 1800", got)
	}
	// Open market: zero.
	if got := cal.SecondsUntilOpen(etDate(2025, time.August, 19, 10, 0)); got != 0 {
		t.Errorf("SecondsUntilOpen during session = %d, want 0", got)
	}
	// 14:00 regular day: two hours to close.
	if got := cal.SecondsUntilClose(etDate(2025, time.August, 19, 14, 0)); got != 7200 {
		t.Errorf("SecondsUntilClose = %d, want 7200", got)
	}
	// Closed market: zero.
	if got := cal.SecondsUntilClose(etDate(2025, time.August, 23, 14, 0)); got != 0 {
		t.Errorf("SecondsUntilClose on Saturday = %d, want 0", got)
	}
	// After close Friday: next open is Monday, never negative.
	got := cal.SecondsUntilOpen(etDate(2025, time.August, 22, 17, 0))
	if got <= 0 {
		t.Errorf("SecondsUntilOpen after Friday close = %d, want positive", got)
	}
}

type fakeFeed struct {
	open        bool
	statusErr   error
	holidays    []time.Time
	holidayErr  error
	statusCalls int
}

func (f *fakeFeed) CurrentStatus(ctx context.Context) (bool, string, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return false, "", f.statusErr
	}
	return f.open, "regular", nil
}

func (f *fakeFeed) UpcomingHolidays(ctx context.Context) ([]time.Time, error) {
	if f.holidayErr != nil {
		return nil, f.holidayErr
	}
	return f.holidays, nil
}

func TestFeedStatusPrecedenceForCurrentMoment(t *testing.T) {
	feed := &fakeFeed{open: true}
	cal := NewWithFeed(feed, zerolog.Nop())

	// Feed answer wins for the current moment even off-hours.
	if !cal.IsMarketOpen(time.Now()) {
		t.Error("expected feed status to take precedence for current moment")
	}
	if feed.statusCalls != 1 {
		t.Errorf("expected 1 feed call, got %d", feed.statusCalls)
	}

	// Second query inside the TTL is served from cache.
	cal.IsMarketOpen(time.Now())
	if feed.statusCalls != 1 {
		t.Errorf("expected cached status, got %d feed calls", feed.statusCalls)
	}
}

func TestFeedIgnoredForNonCurrentMoment(t *testing.T) {
	feed := &fakeFeed{open: true}
	cal := NewWithFeed(feed, zerolog.Nop())

	// A Saturday in the past must be answered deterministically.
	if cal.IsMarketOpen(etDate(2025, time.August, 23, 11, 0)) {
		t.Error("expected deterministic answer for non-current moment")
	}
	if feed.statusCalls != 0 {
		t.Errorf("feed should not be consulted for historical queries, got %d calls", feed.statusCalls)
	}
}

func TestFeedStaleServedOnError(t *testing.T) {
	feed := &fakeFeed{open: true}
	cal := NewWithFeed(feed, zerolog.Nop())

	if !cal.IsMarketOpen(time.Now()) {
		t.Fatal("expected open from live feed")
	}

	// Expire the cache and make the feed fail: the stale value is served.
	cal.mu.Lock()
	cal.statusAt = time.Now().Add(-2 * statusCacheTTL)
	cal.mu.Unlock()
	feed.statusErr = errors.New("connection refused")

	if !cal.IsMarketOpen(time.Now()) {
		t.Error("expected stale cache to be served on feed error")
	}
}

func TestFeedHolidayRecognized(t *testing.T) {
	special := etDate(2025, time.August, 20, 0, 0) // a plain Wednesday
	feed := &fakeFeed{holidays: []time.Time{special}}
	cal := NewWithFeed(feed, zerolog.Nop())

	if !cal.IsHoliday(special) {
		t.Error("expected feed-provided holiday to be recognized")
	}
	if cal.IsTradingDay(special) {
		t.Error("feed-provided holiday should not be a trading day")
	}
}
