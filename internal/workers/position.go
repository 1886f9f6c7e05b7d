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

const (
	defaultPositionInterval = 60 * time.Second

	// maCountWindow is the session tail in which the 21-EMA test counter
	// ticks; evaluating earlier would count intraday dips, not closes.
	maCountWindow = 10 * time.Minute
)

// PositionStore is the slice of the positions repository the position
// worker writes through.
type PositionStore interface {
	GetMonitored() ([]domain.Position, error)
	UpdatePrice(id int64, price float64, at time.Time) error
	SetMATestCount(id int64, count int) error
	SetAvgVolume(id int64, avgVolume float64) error
	WriteSnapshot(p *domain.Position, date time.Time) error
	HasSnapshotFor(positionID int64, date time.Time) (bool, error)
}

// PositionDeps wires a PositionWorker.
type PositionDeps struct {
	Positions PositionStore
	Builder   *ContextBuilder
	Held      *checkers.Suite // stop/profit/pyramid/MA/health rules
	Reentry   *checkers.Suite // alt-entry rules for re-entry watches
	Alerts    AlertRouter
	Cell      *RegimeCell
	Subs      *SubscriptionSet
	Calendar  MarketCalendar
	Bus       *events.Bus
	Interval  time.Duration
}

// PositionWorker walks open positions (states 1..6) plus re-entry
// watches (-1.5) every cycle: persists the latest price, keeps the daily
// artifacts current, and runs the hold-side checker suite. Re-entry
// watches get the alt-entry rules only.
type PositionWorker struct {
	*base
	positions PositionStore
	builder   *ContextBuilder
	held      *checkers.Suite
	reentry   *checkers.Suite
	router    AlertRouter
	cell      *RegimeCell
	subs      *SubscriptionSet

	// maTicked marks positions whose 21-EMA counter already ticked
	// today. Advisory only; a restart inside the close window may judge
	// the same session twice, which the checkers tolerate.
	maTicked map[int64]string
}

func NewPositionWorker(d PositionDeps, log zerolog.Logger) *PositionWorker {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultPositionInterval
	}
	w := &PositionWorker{
		base:      newBase("position", interval, d.Calendar, d.Bus, log),
		positions: d.Positions,
		builder:   d.Builder,
		held:      d.Held,
		reentry:   d.Reentry,
		router:    d.Alerts,
		cell:      d.Cell,
		subs:      d.Subs,
		maTicked:  make(map[int64]string),
	}
	w.base.runCycle = w.checkPositions
	return w
}

func (w *PositionWorker) checkPositions() error {
	targets, err := w.positions.GetMonitored()
	if err != nil {
		return fmt.Errorf("failed to load monitored positions: %w", err)
	}

	if w.subs != nil {
		syms := make([]string, 0, len(targets))
		for i := range targets {
			syms = append(syms, targets[i].Symbol)
		}
		w.subs.Contribute("positions", syms)
	}

	regimeName := w.cell.Regime()
	spy := w.cell.SPYPrice()

	for i := range targets {
		if w.shuttingDown() {
			return nil
		}
		p := &targets[i]

		pctx, q, err := w.builder.Build(p, regimeName, spy)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) {
				w.log.Debug().Str("symbol", p.Symbol).Msg("No quote for position, skipping")
			} else {
				w.addError()
				w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Failed to build context")
			}
			continue
		}

		if err := w.positions.UpdatePrice(p.ID, q.Last, q.Time); err != nil {
			w.addError()
			w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Failed to persist price")
		}

		if p.State == domain.StateWatchingExited {
			routeAlerts(w.router, w.base, w.reentry.Run(pctx))
			w.addProcessed(1)
			continue
		}

		w.maintainDailies(p, pctx, q)
		routeAlerts(w.router, w.base, w.held.Run(pctx))
		w.addProcessed(1)
	}
	return nil
}

// maintainDailies writes the once-per-trading-day artifacts for an open
// position: the snapshot row, the cached average volume, and the
// end-of-session 21-EMA test counter.
func (w *PositionWorker) maintainDailies(p *domain.Position, pctx *domain.PositionContext, q *domain.Quote) {
	if w.cal == nil {
		return
	}
	local := pctx.Now.In(w.cal.Location())
	if !w.cal.IsTradingDay(local) {
		return
	}

	has, err := w.positions.HasSnapshotFor(p.ID, local)
	if err != nil {
		w.addError()
		w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Snapshot lookup failed")
	} else if !has {
		// Patch the market-facing fields so the snapshot carries the
		// fresh quote, not the row loaded before UpdatePrice ran.
		snap := *p
		snap.LastPrice = pctx.CurrentPrice
		snap.CurrentPnLPct = pctx.PnLPct
		snap.RunningHigh = pctx.RunningHigh
		if err := w.positions.WriteSnapshot(&snap, local); err != nil {
			w.addError()
			w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Snapshot write failed")
		}

		avg := q.AvgVolume50D
		if avg <= 0 {
			avg = w.builder.CachedAvgVolume(p.Symbol)
		}
		if avg > 0 && avg != p.AvgVolume50D {
			if err := w.positions.SetAvgVolume(p.ID, avg); err != nil {
				w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Average volume update failed")
			}
		}
	}

	w.tickMATestCount(p, pctx, local)
}

// tickMATestCount judges today's close against the 21-EMA once per
// session, inside the closing window. Below the line increments the
// consecutive-close counter; at or above resets it.
func (w *PositionWorker) tickMATestCount(p *domain.Position, pctx *domain.PositionContext, local time.Time) {
	if pctx.MA21 == nil {
		return
	}
	if !w.cal.IsMarketOpen(local) {
		return
	}
	if w.cal.SecondsUntilClose(local) > int(maCountWindow.Seconds()) {
		return
	}

	day := local.Format("2006-01-02")
	if w.maTicked[p.ID] == day {
		return
	}

	count := 0
	if pctx.CurrentPrice < *pctx.MA21 {
		count = p.MATestCount + 1
	}
	if count != p.MATestCount {
		if err := w.positions.SetMATestCount(p.ID, count); err != nil {
			w.addError()
			w.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("MA test count update failed")
			return
		}
	}
	w.maTicked[p.ID] = day
}
