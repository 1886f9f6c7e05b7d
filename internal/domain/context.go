package domain

import "time"

// PositionContext is the per-symbol snapshot a worker hands to checkers.
// Optional fields are pointers; a checker that needs an absent field skips
// its rule instead of erroring. The struct is msgpack-encoded into the
// alert record so every alert carries the exact context it fired on.
type PositionContext struct {
	Symbol     string        `msgpack:"symbol" json:"symbol"`
	PositionID int64         `msgpack:"position_id" json:"position_id"`
	State      PositionState `msgpack:"state" json:"state"`
	Grade      string        `msgpack:"grade" json:"grade"`
	Score      float64       `msgpack:"score" json:"score"`

	MarketRegime string  `msgpack:"market_regime" json:"market_regime"`
	SPYPrice     float64 `msgpack:"spy_price" json:"spy_price"`

	CurrentPrice  float64 `msgpack:"current_price" json:"current_price"`
	AvgCost       float64 `msgpack:"avg_cost" json:"avg_cost"`
	Pivot         float64 `msgpack:"pivot" json:"pivot"`
	OriginalPivot float64 `msgpack:"original_pivot" json:"original_pivot"`
	StopPrice     float64 `msgpack:"stop_price" json:"stop_price"`
	TP1Target     float64 `msgpack:"tp1_target" json:"tp1_target"`
	TP2Target     float64 `msgpack:"tp2_target" json:"tp2_target"`

	PnLPct float64 `msgpack:"pnl_pct" json:"pnl_pct"`

	MA21     *float64 `msgpack:"ma_21,omitempty" json:"ma_21,omitempty"`
	MA50     *float64 `msgpack:"ma_50,omitempty" json:"ma_50,omitempty"`
	MA200    *float64 `msgpack:"ma_200,omitempty" json:"ma_200,omitempty"`
	MA10Week *float64 `msgpack:"ma_10_week,omitempty" json:"ma_10_week,omitempty"`

	// VolumeRatio is today's cumulative volume over the 50-day average.
	// RVol is the intraday relative volume (time-of-day adjusted).
	VolumeRatio *float64 `msgpack:"volume_ratio,omitempty" json:"volume_ratio,omitempty"`
	RVol        *float64 `msgpack:"rvol,omitempty" json:"rvol,omitempty"`

	RunningHigh float64 `msgpack:"running_high" json:"running_high"`
	MATestCount int     `msgpack:"ma_test_count" json:"ma_test_count"`

	BaseStage string `msgpack:"base_stage,omitempty" json:"base_stage,omitempty"`
	RSRating  int    `msgpack:"rs_rating" json:"rs_rating"`

	EntryDate    *time.Time `msgpack:"entry_date,omitempty" json:"entry_date,omitempty"`
	EarningsDate *time.Time `msgpack:"earnings_date,omitempty" json:"earnings_date,omitempty"`
	Now          time.Time  `msgpack:"now" json:"now"`
}

// DaysHeld returns whole calendar days since entry, 0 when no entry date.
func (c *PositionContext) DaysHeld() int {
	if c.EntryDate == nil {
		return 0
	}
	d := int(c.Now.Sub(*c.EntryDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// PastTP1 reports whether the position has already taken first profits.
func (c *PositionContext) PastTP1() bool {
	return c.State >= StateTookProfit1
}

// AlertData is the checker output routed to the alert service. Severity is
// not set by checkers; the service derives it from the type catalog.
type AlertData struct {
	Symbol     string           `json:"symbol"`
	PositionID int64            `json:"position_id"`
	Type       string           `json:"alert_type"`
	Subtype    string           `json:"alert_subtype"`
	Message    string           `json:"message"`
	Price      float64          `json:"price"`
	Context    *PositionContext `json:"context,omitempty"`
}

// Alert type families.
const (
	AlertTypeStop      = "STOP"
	AlertTypeProfit    = "PROFIT"
	AlertTypePyramid   = "PYRAMID"
	AlertTypeAdd       = "ADD"
	AlertTypeTechnical = "TECHNICAL"
	AlertTypeHealth    = "HEALTH"
	AlertTypeBreakout  = "BREAKOUT"
	AlertTypeAltEntry  = "ALT_ENTRY"
	AlertTypeMarket    = "MARKET"
)

// Alert subtypes. Each (type, subtype) pair maps to a severity in the
// alerts module catalog.
const (
	SubtypeHardStop     = "HARD_STOP"
	SubtypeStopWarning  = "WARNING"
	SubtypeTrailingStop = "TRAILING_STOP"

	SubtypeTP1           = "TP1"
	SubtypeTP2           = "TP2"
	SubtypeEightWeekHold = "EIGHT_WEEK_HOLD"

	SubtypeP1Ready    = "P1_READY"
	SubtypeP1Extended = "P1_EXTENDED"
	SubtypeP2Ready    = "P2_READY"
	SubtypeP2Extended = "P2_EXTENDED"
	SubtypePullback   = "PULLBACK"

	SubtypeMA50Warning = "MA_50_WARNING"
	SubtypeMA50Sell    = "MA_50_SELL"
	SubtypeEMA21Sell   = "EMA_21_SELL"
	SubtypeTenWeekSell = "TEN_WEEK_SELL"
	SubtypeClimaxTop   = "CLIMAX_TOP"

	SubtypeHealthCritical = "CRITICAL"
	SubtypeEarnings       = "EARNINGS"
	SubtypeLateStage      = "LATE_STAGE"

	SubtypeApproaching = "APPROACHING"
	SubtypeConfirmed   = "CONFIRMED"
	SubtypeInBuyZone   = "IN_BUY_ZONE"
	SubtypeExtended    = "EXTENDED"
	SubtypeSuppressed  = "SUPPRESSED"

	SubtypeEMA21Bounce  = "21_EMA_BOUNCE"
	SubtypeMA50Bounce   = "50_MA_BOUNCE"
	SubtypePivotRetest  = "PIVOT_RETEST_AFTER_EXTENSION"
	SubtypeRegimeChange = "REGIME_CHANGE"
)
