package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/pkg/formulas"
)

const (
	defaultQuoteTimeout = 5 * time.Second
	defaultBarsTimeout  = 30 * time.Second

	// barLookbackDays covers the 10-week resample plus the 50-day
	// volume window with slack for holidays.
	barLookbackDays = 120

	// technicalsRetryDelay spaces out bar refetches after a failure so
	// one dead symbol does not hammer the paced provider every cycle.
	technicalsRetryDelay = 10 * time.Minute

	// minSessionFraction floors the elapsed-session divisor; the first
	// minutes after the bell would otherwise blow relative volume up to
	// absurd multiples.
	minSessionFraction = 0.05
)

// technicals caches the bar-derived values that move once per day.
// ma21/ma50 back the quote's optional MA ticks; the gateway omits those
// for symbols it has no indicator subscription on.
type technicals struct {
	day      string
	nextTry  time.Time
	ma10Week *float64
	ma21     *float64
	ma50     *float64
	avgVol   float64
}

// ContextBuilder assembles the PositionContext snapshot a cycle hands to
// the checkers: live quote, bar-derived technicals, intraday relative
// volume, and the regime taken at cycle start. The loops share one
// builder, so a symbol's bars are fetched once per day no matter how many
// scans touch it.
type ContextBuilder struct {
	quotes domain.RealtimeQuoteProvider
	bars   domain.HistoricalBarsProvider
	cal    MarketCalendar
	log    zerolog.Logger
	now    func() time.Time

	quoteTimeout time.Duration
	barsTimeout  time.Duration

	mu    sync.Mutex
	techs map[string]technicals
}

// NewContextBuilder creates a builder. Bars may be nil; contexts then
// carry quote-derived technicals only.
func NewContextBuilder(quotes domain.RealtimeQuoteProvider, bars domain.HistoricalBarsProvider, cal MarketCalendar, log zerolog.Logger) *ContextBuilder {
	return &ContextBuilder{
		quotes:       quotes,
		bars:         bars,
		cal:          cal,
		log:          log.With().Str("component", "context_builder").Logger(),
		now:          time.Now,
		quoteTimeout: defaultQuoteTimeout,
		barsTimeout:  defaultBarsTimeout,
		techs:        make(map[string]technicals),
	}
}

// Build snapshots one position against its live quote. Returns the quote
// alongside so callers can persist price fields with the quote's own
// timestamp. A missing quote surfaces as domain.ErrNoQuote.
func (cb *ContextBuilder) Build(p *domain.Position, marketRegime string, spyPrice float64) (*domain.PositionContext, *domain.Quote, error) {
	qctx, cancel := context.WithTimeout(context.Background(), cb.quoteTimeout)
	q, err := cb.quotes.GetQuote(qctx, p.Symbol)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	now := cb.now()
	pctx := &domain.PositionContext{
		Symbol:        p.Symbol,
		PositionID:    p.ID,
		State:         p.State,
		Grade:         p.EntryGrade,
		Score:         p.EntryScore,
		MarketRegime:  marketRegime,
		SPYPrice:      spyPrice,
		CurrentPrice:  q.Last,
		AvgCost:       p.AvgCost,
		Pivot:         p.Pivot,
		OriginalPivot: p.OriginalPivot,
		StopPrice:     p.StopPrice,
		TP1Target:     p.TP1Target,
		TP2Target:     p.TP2Target,
		RunningHigh:   p.RunningHigh,
		MATestCount:   p.MATestCount,
		BaseStage:     p.BaseStage,
		RSRating:      p.RSRating,
		EntryDate:     p.E1Date,
		EarningsDate:  p.EarningsDate,
		Now:           now,
		MA21:          q.MA21,
		MA50:          q.MA50,
		MA200:         q.MA200,
	}

	if p.AvgCost > 0 && q.Last > 0 {
		pctx.PnLPct = (q.Last - p.AvgCost) / p.AvgCost * 100
	}
	if p.IsOpen() && q.Last > pctx.RunningHigh {
		pctx.RunningHigh = q.Last
	}

	tech := cb.technicalsFor(p.Symbol, now)
	pctx.MA10Week = tech.ma10Week
	if pctx.MA21 == nil {
		pctx.MA21 = tech.ma21
	}
	if pctx.MA50 == nil {
		pctx.MA50 = tech.ma50
	}

	avgVol := q.AvgVolume50D
	if avgVol <= 0 {
		avgVol = p.AvgVolume50D
	}
	if avgVol <= 0 {
		avgVol = tech.avgVol
	}
	if avgVol > 0 && q.Volume > 0 {
		vr := q.Volume / avgVol
		pctx.VolumeRatio = &vr
		rvol := vr / cb.sessionFraction(now)
		pctx.RVol = &rvol
	}

	return pctx, q, nil
}

// CachedAvgVolume returns the bar-derived 50-day average volume for a
// symbol, 0 when the cache has nothing.
func (cb *ContextBuilder) CachedAvgVolume(symbol string) float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.techs[symbol].avgVol
}

// technicalsFor serves the per-day technicals cache, fetching bars at
// most once per trading day per symbol. On a failed fetch the previous
// day's values stay in place; slow-moving averages are still usable.
func (cb *ContextBuilder) technicalsFor(symbol string, now time.Time) technicals {
	day := now.In(cb.location()).Format("2006-01-02")

	cb.mu.Lock()
	t := cb.techs[symbol]
	if t.day == day || now.Before(t.nextTry) {
		cb.mu.Unlock()
		return t
	}
	cb.mu.Unlock()

	bars, err := cb.fetchBars(symbol, now)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	t = cb.techs[symbol]
	if err != nil {
		cb.log.Warn().Err(err).Str("symbol", symbol).Msg("Daily bars unavailable; technicals degraded")
		t.nextTry = now.Add(technicalsRetryDelay)
		cb.techs[symbol] = t
		return t
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	t = technicals{
		day:      day,
		ma10Week: tenWeekMA(bars),
		ma21:     formulas.CalculateEMA(closes, 21),
		ma50:     formulas.CalculateSMA(closes, 50),
		avgVol:   averageVolume(bars, 50),
	}
	cb.techs[symbol] = t
	return t
}

func (cb *ContextBuilder) fetchBars(symbol string, now time.Time) ([]domain.Bar, error) {
	if cb.bars == nil {
		return nil, nil
	}
	bctx, cancel := context.WithTimeout(context.Background(), cb.barsTimeout)
	defer cancel()
	return cb.bars.DailyBars(bctx, symbol, now, barLookbackDays)
}

// sessionFraction returns how much of today's session has elapsed, in
// (0, 1]. At or before the bell, and on closed days, it returns 1 so the
// relative-volume figure degrades to the plain day-over-average ratio.
func (cb *ContextBuilder) sessionFraction(now time.Time) float64 {
	if cb.cal == nil {
		return 1
	}
	local := now.In(cb.cal.Location())
	open, close, ok := cb.cal.MarketHours(local)
	if !ok || !local.After(open) {
		return 1
	}
	total := close.Sub(open).Seconds()
	if total <= 0 {
		return 1
	}
	frac := local.Sub(open).Seconds() / total
	if frac < minSessionFraction {
		return minSessionFraction
	}
	if frac > 1 {
		return 1
	}
	return frac
}

func (cb *ContextBuilder) location() *time.Location {
	if cb.cal == nil {
		return time.UTC
	}
	return cb.cal.Location()
}

// tenWeekMA computes the 10-week moving average from daily bars by
// taking the last close of each ISO week. Nil with fewer than ten weeks
// of history.
func tenWeekMA(bars []domain.Bar) *float64 {
	if len(bars) == 0 {
		return nil
	}
	var weekly []float64
	curYear, curWeek := bars[0].Date.ISOWeek()
	last := bars[0].Close
	for _, b := range bars[1:] {
		y, w := b.Date.ISOWeek()
		if y != curYear || w != curWeek {
			weekly = append(weekly, last)
			curYear, curWeek = y, w
		}
		last = b.Close
	}
	weekly = append(weekly, last)
	return formulas.CalculateSMA(weekly, 10)
}

// averageVolume is the mean volume over the trailing n bars, 0 when the
// history is shorter than the window.
func averageVolume(bars []domain.Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return 0
	}
	vols := make([]float64, 0, n)
	for _, b := range bars[len(bars)-n:] {
		vols = append(vols, b.Volume)
	}
	return formulas.Mean(vols)
}
