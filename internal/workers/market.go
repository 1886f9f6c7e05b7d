package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/pkg/formulas"
)

const (
	defaultMarketInterval  = 15 * time.Minute
	defaultBackfillCadence = 1 * time.Hour

	// indexLookbackDays feeds the 200-day MA checks with a trading year
	// of history.
	indexLookbackDays = 260
)

// Index and proxy symbols the regime evaluation is built from. The Dow
// ETF stands in for YM futures the same way SPY/QQQ proxy ES/NQ.
const (
	spySymbol      = "SPY"
	qqqSymbol      = "QQQ"
	dowProxySymbol = "DIA"
	vixSymbol      = "VIX"
)

// RegimeRunner is the slice of the regime service the market worker
// drives.
type RegimeRunner interface {
	Current() (*regime.MarketRegimeAlert, error)
	RunForDate(in regime.Inputs) (*regime.MarketRegimeAlert, error)
}

// MarketDeps wires a MarketWorker.
type MarketDeps struct {
	Bars      domain.HistoricalBarsProvider
	Quotes    domain.RealtimeQuoteProvider
	Sentiment domain.SentimentProvider
	Regime    RegimeRunner
	Alerts    AlertRouter
	Cell      *RegimeCell
	Subs      *SubscriptionSet
	Calendar  MarketCalendar
	Bus       *events.Bus
	Interval  time.Duration
}

// MarketWorker refreshes the market regime: index bars, live futures
// proxies, the sentiment feed, and the VIX close go through one
// evaluation per cycle, and the result lands in the RegimeCell the other
// workers read. Off-hours it keeps a reduced cadence so the evaluation
// backfills after weekends and restarts.
type MarketWorker struct {
	*base
	bars      domain.HistoricalBarsProvider
	quotes    domain.RealtimeQuoteProvider
	sentiment domain.SentimentProvider
	regime    RegimeRunner
	router    AlertRouter
	cell      *RegimeCell
	subs      *SubscriptionSet

	barsTimeout  time.Duration
	quoteTimeout time.Duration

	// lastSessionOpen is the session side seen by the previous cycle;
	// a flip emits exactly one MarketStatusChanged. Cycle-goroutine only.
	lastSessionOpen *bool
}

func NewMarketWorker(d MarketDeps, log zerolog.Logger) *MarketWorker {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultMarketInterval
	}
	w := &MarketWorker{
		base:         newBase("market", interval, d.Calendar, d.Bus, log),
		bars:         d.Bars,
		quotes:       d.Quotes,
		sentiment:    d.Sentiment,
		regime:       d.Regime,
		router:       d.Alerts,
		cell:         d.Cell,
		subs:         d.Subs,
		barsTimeout:  defaultBarsTimeout,
		quoteTimeout: defaultQuoteTimeout,
	}
	w.base.offHoursInterval = defaultBackfillCadence
	w.base.runCycle = w.refreshRegime
	return w
}

func (w *MarketWorker) refreshRegime() error {
	if w.subs != nil {
		w.subs.Contribute("market", []string{spySymbol, qqqSymbol, dowProxySymbol, vixSymbol})
	}

	// Crash recovery is state-free: before anything else, make sure the
	// cell reflects the newest persisted record so the other workers are
	// never suppressing (or not) off a blank regime.
	if w.cell.Snapshot() == nil {
		if cur, err := w.regime.Current(); err == nil && cur != nil {
			w.cell.Update(cur)
		}
	}

	now := w.now()
	if w.cal != nil {
		now = now.In(w.cal.Location())
	}
	w.publishSessionFlip(now)

	spyBars, err := w.fetchBars(spySymbol, now)
	if err != nil {
		return fmt.Errorf("failed to load %s bars: %w", spySymbol, err)
	}
	qqqBars, err := w.fetchBars(qqqSymbol, now)
	if err != nil {
		return fmt.Errorf("failed to load %s bars: %w", qqqSymbol, err)
	}

	in := regime.Inputs{
		SPY:  regime.IndexInput{Symbol: spySymbol, Bars: spyBars},
		QQQ:  regime.IndexInput{Symbol: qqqSymbol, Bars: qqqBars},
		Date: now,
	}

	in.ESChangePct = w.liveChangePct(spySymbol, spyBars)
	in.NQChangePct = w.liveChangePct(qqqSymbol, qqqBars)
	if dowBars, err := w.fetchBars(dowProxySymbol, now); err == nil {
		in.YMChangePct = w.liveChangePct(dowProxySymbol, dowBars)
	} else {
		w.log.Debug().Err(err).Msg("Dow proxy bars unavailable")
	}

	if fg := w.fetchSentiment(); fg != nil {
		in.FearGreed = fg
	}
	if vix := w.fetchVIXClose(now); vix != nil {
		in.VIXClose = vix
	}

	prev, err := w.regime.Current()
	if err != nil {
		w.log.Warn().Err(err).Msg("Could not load previous regime record")
		prev = nil
	}

	rec, err := w.regime.RunForDate(in)
	if err != nil {
		return fmt.Errorf("regime evaluation failed: %w", err)
	}

	w.cell.Update(rec)
	if n := len(spyBars); n > 0 {
		w.cell.SetSPYPrice(spyBars[n-1].Close)
	}
	if q := w.liveQuote(spySymbol); q != nil && q.Last > 0 {
		w.cell.SetSPYPrice(q.Last)
	}

	if prev != nil && prev.Regime != rec.Regime {
		w.emitRegimeAlert(prev.Regime, rec)
	}

	w.addProcessed(1)
	return nil
}

func (w *MarketWorker) fetchBars(symbol string, now time.Time) ([]domain.Bar, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.barsTimeout)
	defer cancel()
	return w.bars.DailyBars(ctx, symbol, now, indexLookbackDays)
}

func (w *MarketWorker) liveQuote(symbol string) *domain.Quote {
	if w.quotes == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.quoteTimeout)
	defer cancel()
	q, err := w.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return nil
	}
	return q
}

// liveChangePct is the percent move of the live quote against the last
// completed close, the overnight-futures stand-in. Nil when either side
// is missing, which the calculator treats as "no futures signal".
func (w *MarketWorker) liveChangePct(symbol string, bars []domain.Bar) *float64 {
	n := len(bars)
	if n == 0 || bars[n-1].Close <= 0 {
		return nil
	}
	q := w.liveQuote(symbol)
	if q == nil || q.Last <= 0 {
		return nil
	}
	pct := formulas.PctChange(bars[n-1].Close, q.Last) * 100
	return &pct
}

func (w *MarketWorker) fetchSentiment() *domain.FearGreed {
	if w.sentiment == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.quoteTimeout)
	defer cancel()
	fg, err := w.sentiment.Current(ctx)
	if err != nil {
		w.log.Debug().Err(err).Msg("Sentiment feed unavailable")
		return nil
	}
	return fg
}

func (w *MarketWorker) fetchVIXClose(now time.Time) *float64 {
	bars, err := w.fetchBars(vixSymbol, now)
	if err != nil || len(bars) == 0 {
		w.log.Debug().Err(err).Msg("VIX bars unavailable")
		return nil
	}
	v := bars[len(bars)-1].Close
	return &v
}

// publishSessionFlip emits MarketStatusChanged when the session side
// changed since the previous cycle. The first cycle only records it.
func (w *MarketWorker) publishSessionFlip(now time.Time) {
	if w.cal == nil || w.bus == nil {
		return
	}
	open := w.cal.IsMarketOpen(now)
	prev := w.lastSessionOpen
	w.lastSessionOpen = &open
	if prev == nil || *prev == open {
		return
	}

	session := "closed"
	if open {
		session = "regular"
	}
	earlyClose := false
	if _, sessionEnd, ok := w.cal.MarketHours(now); ok {
		earlyClose = sessionEnd.Hour() < 16
	}

	w.bus.EmitData("market_worker", &events.MarketStatusChangedData{
		Open:       open,
		Session:    session,
		EarlyClose: earlyClose,
	})
}

// emitRegimeAlert routes a regime flip through the alert service so it
// reaches the notification channel like any position alert.
func (w *MarketWorker) emitRegimeAlert(from string, rec *regime.MarketRegimeAlert) {
	msg := fmt.Sprintf("Market regime changed from %s to %s (composite %.2f, %s, SPY D-days %d, QQQ D-days %d)",
		from, rec.Regime, rec.CompositeScore, rec.MarketPhase, rec.SPYDCount, rec.QQQDCount)
	data := domain.AlertData{
		Symbol:  "MARKET",
		Type:    domain.AlertTypeMarket,
		Subtype: domain.SubtypeRegimeChange,
		Message: msg,
		Price:   w.cell.SPYPrice(),
	}
	if _, err := w.router.Emit(data); err != nil {
		w.addError()
		w.log.Error().Err(err).Msg("Regime alert emission failed")
	}
}
