package workers

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/checkers"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

const defaultBreakoutInterval = 60 * time.Second

// WatchlistSource is the slice of the positions repository the breakout
// worker reads.
type WatchlistSource interface {
	GetWatchlist() ([]domain.Position, error)
}

// BreakoutDeps wires a BreakoutWorker.
type BreakoutDeps struct {
	Watchlist WatchlistSource
	Builder   *ContextBuilder
	Suite     *checkers.Suite
	Alerts    AlertRouter
	Cell      *RegimeCell
	Subs      *SubscriptionSet
	Calendar  MarketCalendar
	Bus       *events.Bus
	Interval  time.Duration
}

// BreakoutWorker scans watchlist entries (state 0) against their pivots
// during market hours and routes breakout and alternative-entry signals.
type BreakoutWorker struct {
	*base
	watchlist WatchlistSource
	builder   *ContextBuilder
	suite     *checkers.Suite
	router    AlertRouter
	cell      *RegimeCell
	subs      *SubscriptionSet
}

func NewBreakoutWorker(d BreakoutDeps, log zerolog.Logger) *BreakoutWorker {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultBreakoutInterval
	}
	w := &BreakoutWorker{
		base:      newBase("breakout", interval, d.Calendar, d.Bus, log),
		watchlist: d.Watchlist,
		builder:   d.Builder,
		suite:     d.Suite,
		router:    d.Alerts,
		cell:      d.Cell,
		subs:      d.Subs,
	}
	w.base.runCycle = w.scanWatchlist
	return w
}

func (w *BreakoutWorker) scanWatchlist() error {
	targets, err := w.watchlist.GetWatchlist()
	if err != nil {
		return fmt.Errorf("failed to load watchlist: %w", err)
	}

	if w.subs != nil {
		syms := make([]string, 0, len(targets))
		for i := range targets {
			syms = append(syms, targets[i].Symbol)
		}
		w.subs.Contribute("watchlist", syms)
	}

	regimeName := w.cell.Regime()
	spy := w.cell.SPYPrice()

	for i := range targets {
		if w.shuttingDown() {
			return nil
		}
		p := &targets[i]
		if p.Pivot <= 0 {
			continue
		}

		pctx, _, err := w.builder.Build(p, regimeName, spy)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) {
				w.log.Debug().Str("symbol", p.Symbol).Msg("No quote for watch item, skipping")
			} else {
				w.addError()
				w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Failed to build context")
			}
			continue
		}

		hits := w.suite.Run(pctx)
		routeAlerts(w.router, w.base, hits)
		w.publishBreakouts(pctx, hits)
		w.addProcessed(1)
	}
	return nil
}

// publishBreakouts mirrors pivot clears onto the bus so live views see
// them without tailing the alerts table. Approaching and extended states
// stay alert-only.
func (w *BreakoutWorker) publishBreakouts(pctx *domain.PositionContext, hits []domain.AlertData) {
	if w.bus == nil {
		return
	}
	for _, h := range hits {
		if h.Type != domain.AlertTypeBreakout {
			continue
		}
		if h.Subtype != domain.SubtypeConfirmed && h.Subtype != domain.SubtypeInBuyZone {
			continue
		}
		w.bus.EmitData("breakout_worker", &events.BreakoutDetectedData{
			Symbol:      h.Symbol,
			Price:       h.Price,
			Pivot:       pctx.Pivot,
			VolumeRatio: pctx.RVol,
			Zone:        h.Subtype,
		})
	}
}
