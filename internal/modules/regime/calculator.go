package regime

import (
	"time"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/pkg/formulas"
)

// ConfigVersion pins the active rule set. It is written into every regime
// record so historical rows stay auditable when weights change.
const ConfigVersion = "rv1"

// Weights are the composite-score component weights. They sum to 1.
type Weights struct {
	MA        float64
	Momentum  float64
	DDay      float64
	FTD       float64
	FearGreed float64
}

// CalcConfig is the full calculator rule set.
type CalcConfig struct {
	Version string
	Weights Weights

	// Entry-risk weights reuse the composite components minus fear/greed,
	// with overnight futures folded into momentum.
	RiskWeights Weights

	// BullishFloor and NeutralFloor bucket the composite score.
	BullishFloor float64
	NeutralFloor float64

	// MomentumSpanPct saturates the momentum map at +/- this many percent.
	MomentumSpanPct float64

	// DDaySaturation is the count at which the D-Day penalty maxes out.
	DDaySaturation int

	DDay DDayConfig
	FTD  FTDConfig
}

// DefaultCalcConfig returns the shipped rule set.
func DefaultCalcConfig() CalcConfig {
	return CalcConfig{
		Version: ConfigVersion,
		Weights: Weights{
			MA:        0.25,
			Momentum:  0.20,
			DDay:      0.30,
			FTD:       0.15,
			FearGreed: 0.10,
		},
		RiskWeights: Weights{
			MA:       0.35,
			Momentum: 0.25,
			DDay:     0.25,
			FTD:      0.15,
		},
		BullishFloor:    0.8,
		NeutralFloor:    0.5,
		MomentumSpanPct: 3.0,
		DDaySaturation:  8,
		DDay:            DefaultDDayConfig(),
		FTD:             DefaultFTDConfig(),
	}
}

// IndexInput is one index symbol's ascending daily bars.
type IndexInput struct {
	Symbol string
	Bars   []domain.Bar
}

// Inputs is everything one evaluation consumes. Given identical inputs and
// config version, Evaluate returns identical output.
type Inputs struct {
	SPY IndexInput
	QQQ IndexInput

	ESChangePct *float64
	NQChangePct *float64
	YMChangePct *float64

	FearGreed *domain.FearGreed
	VIXClose  *float64

	Date time.Time
}

// Evaluation is the full result of one calculator run: the regime record
// plus the advanced tracker states and detection side-outputs the service
// persists.
type Evaluation struct {
	Record   MarketRegimeAlert
	SPYState *FTDState
	QQQState *FTDState

	NewDDays   []DistributionDay
	StaleDDays []DistributionDay
}

// Calculator computes the daily market regime. It performs no I/O; the
// Service around it loads state and persists results.
type Calculator struct {
	cfg CalcConfig
}

// NewCalculator creates a calculator with the given rule set.
func NewCalculator(cfg CalcConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// indexView is the per-index intermediate state for one evaluation.
type indexView struct {
	symbol     string
	bars       []domain.Bar
	ddays      []DistributionDay
	count      int
	delta5     int
	newToday   *DistributionDay
	aboveMA50  *bool
	aboveMA200 *bool
	change5d   *float64
}

func (c *Calculator) analyzeIndex(in IndexInput) indexView {
	v := indexView{symbol: in.Symbol, bars: in.Bars}
	if len(in.Bars) == 0 {
		return v
	}

	v.ddays = c.cfg.DDay.DetectAll(in.Symbol, in.Bars)
	last := len(in.Bars) - 1
	v.count = c.cfg.DDay.CountActiveAsOf(v.ddays, in.Bars, last)
	v.delta5 = c.cfg.DDay.FiveDayDelta(v.ddays, in.Bars)

	if len(v.ddays) > 0 {
		if d := v.ddays[len(v.ddays)-1]; d.Date == in.Bars[last].Date.Format("2006-01-02") {
			v.newToday = &d
		}
	}

	closes := make([]float64, len(in.Bars))
	for i, b := range in.Bars {
		closes[i] = b.Close
	}
	price := closes[last]

	if ma50 := formulas.CalculateSMA(closes, 50); ma50 != nil {
		above := price > *ma50
		v.aboveMA50 = &above
	}
	if ma200 := formulas.CalculateSMA(closes, 200); ma200 != nil {
		above := price > *ma200
		v.aboveMA200 = &above
	}
	if last >= 5 && closes[last-5] > 0 {
		ch := formulas.PctChange(closes[last-5], price) * 100
		v.change5d = &ch
	}

	return v
}

// Evaluate runs the full daily computation. spyState/qqqState may be nil
// for first-run bootstrap.
func (c *Calculator) Evaluate(in Inputs, spyState, qqqState *FTDState) *Evaluation {
	spy := c.analyzeIndex(in.SPY)
	qqq := c.analyzeIndex(in.QQQ)

	if spyState == nil {
		spyState = c.cfg.FTD.NewFTDState(in.SPY.Symbol, spy.count)
	}
	if qqqState == nil {
		qqqState = c.cfg.FTD.NewFTDState(in.QQQ.Symbol, qqq.count)
	}
	spyState = c.advanceFTD(spyState, spy)
	qqqState = c.advanceFTD(qqqState, qqq)

	maComp := maComponent(spy, qqq)
	momComp := c.momentumComponent(spy.change5d, qqq.change5d, nil)
	maxCount := spy.count
	if qqq.count > maxCount {
		maxCount = qqq.count
	}
	ddayComp := c.ddayComponent(maxCount)
	ftdComp := ftdFactor(spyState.Phase)
	fgComp := 0.5
	if in.FearGreed != nil {
		fgComp = clamp01(in.FearGreed.Score / 100)
	}

	w := c.cfg.Weights
	composite := w.MA*maComp + w.Momentum*momComp + w.DDay*ddayComp + w.FTD*ftdComp + w.FearGreed*fgComp

	// Entry risk folds overnight futures into momentum and inverts: higher
	// means riskier to open new positions.
	riskMom := c.momentumComponent(spy.change5d, qqq.change5d, futuresAvg(in))
	rw := c.cfg.RiskWeights
	entryRisk := 1 - clamp01(rw.MA*maComp+rw.Momentum*riskMom+rw.DDay*ddayComp+rw.FTD*ftdComp)

	record := MarketRegimeAlert{
		Date:           in.Date.Format("2006-01-02"),
		CompositeScore: composite,
		EntryRiskScore: entryRisk,
		Regime:         c.bucket(composite),

		SPYDCount:    spy.count,
		QQQDCount:    qqq.count,
		SPY5DayDelta: spy.delta5,
		QQQ5DayDelta: qqq.delta5,
		DDayTrend:    TrendFromDeltas(spy.delta5, qqq.delta5),

		MarketPhase:     spyState.Phase,
		RallyDay:        spyState.RallyDay(in.Date),
		HasConfirmedFTD: c.cfg.FTD.HasValidFTD(spyState),

		ESChangePct: in.ESChangePct,
		NQChangePct: in.NQChangePct,
		YMChangePct: in.YMChangePct,

		FearGreedScore: fearGreedScore(in.FearGreed),
		VIXClose:       in.VIXClose,

		ConfigVersion: c.cfg.Version,
	}
	if in.FearGreed != nil {
		record.FearGreedRating = in.FearGreed.Rating
	}

	eval := &Evaluation{
		Record:   record,
		SPYState: spyState,
		QQQState: qqqState,
	}
	for _, v := range []indexView{spy, qqq} {
		if v.newToday != nil {
			eval.NewDDays = append(eval.NewDDays, *v.newToday)
		}
		eval.StaleDDays = append(eval.StaleDDays, c.cfg.DDay.StaleDays(v.ddays, v.bars)...)
	}
	return eval
}

func (c *Calculator) advanceFTD(state *FTDState, v indexView) *FTDState {
	if len(v.bars) < 2 {
		return state
	}
	last := len(v.bars) - 1
	return c.cfg.FTD.ProcessDay(state, v.bars[last-1], v.bars[last], v.count, v.newToday != nil)
}

// maComponent is the fraction of the four MA checks (SPY/QQQ each vs
// 50/200 MA) that pass, over the checks computable from the given bars.
func maComponent(spy, qqq indexView) float64 {
	checks, passed := 0, 0
	for _, b := range []*bool{spy.aboveMA50, spy.aboveMA200, qqq.aboveMA50, qqq.aboveMA200} {
		if b == nil {
			continue
		}
		checks++
		if *b {
			passed++
		}
	}
	if checks == 0 {
		return 0.5
	}
	return float64(passed) / float64(checks)
}

// momentumComponent maps the average recent change linearly onto [0,1],
// saturating at +/- MomentumSpanPct. Futures, when given, blend in at 30%.
func (c *Calculator) momentumComponent(spyCh, qqqCh, futures *float64) float64 {
	var sum float64
	var n int
	for _, ch := range []*float64{spyCh, qqqCh} {
		if ch != nil {
			sum += *ch
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	avg := sum / float64(n)
	if futures != nil {
		avg = avg*0.7 + *futures*0.3
	}

	span := c.cfg.MomentumSpanPct
	return clamp01((avg + span) / (2 * span))
}

func (c *Calculator) ddayComponent(maxCount int) float64 {
	sat := float64(c.cfg.DDaySaturation)
	if sat <= 0 {
		sat = 8
	}
	penalty := float64(maxCount) / sat
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}

func ftdFactor(phase string) float64 {
	switch phase {
	case PhaseConfirmedUptrend:
		return 1.0
	case PhaseRallyAttempt:
		return 0.5
	case PhaseUptrendUnderPressure:
		return 0.4
	default:
		return 0.0
	}
}

func (c *Calculator) bucket(composite float64) string {
	switch {
	case composite >= c.cfg.BullishFloor:
		return RegimeBullish
	case composite >= c.cfg.NeutralFloor:
		return RegimeNeutral
	default:
		return RegimeBearish
	}
}

func futuresAvg(in Inputs) *float64 {
	var sum float64
	var n int
	for _, f := range []*float64{in.ESChangePct, in.NQChangePct, in.YMChangePct} {
		if f != nil {
			sum += *f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func fearGreedScore(fg *domain.FearGreed) *float64 {
	if fg == nil {
		return nil
	}
	s := fg.Score
	return &s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
