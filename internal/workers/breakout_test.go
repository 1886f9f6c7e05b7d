package workers

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/checkers"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/regime"
)

type fakeWatchlist struct {
	items []domain.Position
	err   error
}

func (f *fakeWatchlist) GetWatchlist() ([]domain.Position, error) {
	return f.items, f.err
}

func watchSuite() *checkers.Suite {
	cfg := checkers.DefaultConfig()
	return checkers.NewSuite(zerolog.Nop(), 0,
		checkers.NewBreakoutChecker(cfg),
		checkers.NewAltEntryChecker(cfg),
	)
}

func newBreakoutWorker(watchlist *fakeWatchlist, quotes *fakeQuotes, cell *RegimeCell, router *fakeRouter) *BreakoutWorker {
	cal := &fakeCalendar{open: true, tradingDay: true}
	return NewBreakoutWorker(BreakoutDeps{
		Watchlist: watchlist,
		Builder:   NewContextBuilder(quotes, nil, cal, zerolog.Nop()),
		Suite:     watchSuite(),
		Alerts:    router,
		Cell:      cell,
		Calendar:  cal,
	}, zerolog.Nop())
}

func bullCell() *RegimeCell {
	cell := NewRegimeCell()
	cell.Update(&regime.MarketRegimeAlert{Regime: regime.RegimeBullish})
	cell.SetSPYPrice(510)
	return cell
}

func TestBreakoutWorkerRoutesConfirmedBreakout(t *testing.T) {
	watchlist := &fakeWatchlist{items: []domain.Position{
		{ID: 2, Symbol: "PLTR", State: domain.StateWatching, Pivot: 100, EntryGrade: "A", RSRating: 92},
	}}
	quotes := &fakeQuotes{quotes: map[string]*domain.Quote{
		"PLTR": {Symbol: "PLTR", Last: 102, Volume: 3_000_000, AvgVolume50D: 1_500_000, Time: time.Now()},
	}}
	router := &fakeRouter{}
	w := newBreakoutWorker(watchlist, quotes, bullCell(), router)

	require.NoError(t, w.scanWatchlist())

	emitted := router.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.AlertTypeBreakout, emitted[0].Type)
	assert.Equal(t, domain.SubtypeConfirmed, emitted[0].Subtype)
	assert.Equal(t, "PLTR", emitted[0].Symbol)
	require.NotNil(t, emitted[0].Context)
	assert.Equal(t, regime.RegimeBullish, emitted[0].Context.MarketRegime)
	assert.Equal(t, 510.0, emitted[0].Context.SPYPrice)

	assert.Equal(t, int64(1), w.Stats().MessagesProcessed)
	assert.Equal(t, int64(0), w.Stats().Errors)
}

func TestBreakoutWorkerPublishesPivotClears(t *testing.T) {
	watchlist := &fakeWatchlist{items: []domain.Position{
		{ID: 2, Symbol: "PLTR", State: domain.StateWatching, Pivot: 100, EntryGrade: "A", RSRating: 92},
	}}
	quotes := &fakeQuotes{quotes: map[string]*domain.Quote{
		"PLTR": {Symbol: "PLTR", Last: 102, Volume: 3_000_000, AvgVolume50D: 1_500_000, Time: time.Now()},
	}}
	cal := &fakeCalendar{open: true, tradingDay: true}
	bus := events.NewBus(zerolog.Nop())
	w := NewBreakoutWorker(BreakoutDeps{
		Watchlist: watchlist,
		Builder:   NewContextBuilder(quotes, nil, cal, zerolog.Nop()),
		Suite:     watchSuite(),
		Alerts:    &fakeRouter{},
		Cell:      bullCell(),
		Calendar:  cal,
		Bus:       bus,
	}, zerolog.Nop())

	var got []*events.Event
	bus.Subscribe(events.BreakoutDetected, func(e *events.Event) { got = append(got, e) })

	require.NoError(t, w.scanWatchlist())

	require.Len(t, got, 1)
	data, ok := got[0].GetTypedData().(*events.BreakoutDetectedData)
	require.True(t, ok)
	assert.Equal(t, "PLTR", data.Symbol)
	assert.Equal(t, 102.0, data.Price)
	assert.Equal(t, 100.0, data.Pivot)
	assert.Equal(t, domain.SubtypeConfirmed, data.Zone)
	require.NotNil(t, data.VolumeRatio)
	assert.InDelta(t, 2.0, *data.VolumeRatio, 1e-9)

	// An approaching signal alerts but does not ride the bus.
	quotes.quotes["PLTR"].Last = 98.5
	require.NoError(t, w.scanWatchlist())
	assert.Len(t, got, 1)
}

func TestBreakoutWorkerSuppressesInBearishRegime(t *testing.T) {
	cell := NewRegimeCell()
	cell.Update(&regime.MarketRegimeAlert{Regime: regime.RegimeBearish})

	watchlist := &fakeWatchlist{items: []domain.Position{
		{ID: 2, Symbol: "PLTR", State: domain.StateWatching, Pivot: 100, EntryGrade: "A"},
	}}
	quotes := &fakeQuotes{quotes: map[string]*domain.Quote{
		"PLTR": {Symbol: "PLTR", Last: 102, Volume: 3_000_000, AvgVolume50D: 1_500_000},
	}}
	router := &fakeRouter{}
	w := newBreakoutWorker(watchlist, quotes, cell, router)

	require.NoError(t, w.scanWatchlist())

	emitted := router.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.SubtypeSuppressed, emitted[0].Subtype)
}

func TestBreakoutWorkerSkipsSymbolsWithoutQuotes(t *testing.T) {
	watchlist := &fakeWatchlist{items: []domain.Position{
		{ID: 1, Symbol: "GHOST", State: domain.StateWatching, Pivot: 50},
		{ID: 2, Symbol: "PLTR", State: domain.StateWatching, Pivot: 100, EntryGrade: "A"},
	}}
	quotes := &fakeQuotes{quotes: map[string]*domain.Quote{
		"PLTR": {Symbol: "PLTR", Last: 98.5},
	}}
	router := &fakeRouter{}
	w := newBreakoutWorker(watchlist, quotes, bullCell(), router)

	require.NoError(t, w.scanWatchlist())

	emitted := router.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.SubtypeApproaching, emitted[0].Subtype)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.MessagesProcessed, "quoteless symbol is skipped, not processed")
	assert.Equal(t, int64(0), stats.Errors, "a missing quote off-hours is not an error")
}

func TestBreakoutWorkerIgnoresItemsWithoutPivot(t *testing.T) {
	watchlist := &fakeWatchlist{items: []domain.Position{
		{ID: 3, Symbol: "NOPIV", State: domain.StateWatching},
	}}
	quotes := &fakeQuotes{quotes: map[string]*domain.Quote{
		"NOPIV": {Symbol: "NOPIV", Last: 42},
	}}
	router := &fakeRouter{}
	w := newBreakoutWorker(watchlist, quotes, bullCell(), router)

	require.NoError(t, w.scanWatchlist())

	assert.Empty(t, router.all())
	assert.Equal(t, 0, quotes.callCount(), "no pivot, no quote fetch")
	assert.Equal(t, int64(0), w.Stats().MessagesProcessed)
}

func TestBreakoutWorkerSurfacesWatchlistErrors(t *testing.T) {
	watchlist := &fakeWatchlist{err: errors.New("db locked")}
	w := newBreakoutWorker(watchlist, &fakeQuotes{}, NewRegimeCell(), &fakeRouter{})

	err := w.scanWatchlist()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load watchlist")
}
