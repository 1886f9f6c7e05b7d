package regime

import "time"

// Regime buckets derived from the composite score.
const (
	RegimeBullish = "BULLISH"
	RegimeNeutral = "NEUTRAL"
	RegimeBearish = "BEARISH"
)

// Market phases tracked by the follow-through-day state machine.
const (
	PhaseConfirmedUptrend     = "CONFIRMED_UPTREND"
	PhaseUptrendUnderPressure = "UPTREND_UNDER_PRESSURE"
	PhaseRallyAttempt         = "RALLY_ATTEMPT"
	PhaseCorrection           = "CORRECTION"
)

// Distribution-day count trend over the 5-session delta.
const (
	TrendImproving = "IMPROVING"
	TrendWorsening = "WORSENING"
	TrendFlat      = "FLAT"
)

// MarketRegimeAlert is the one-per-trading-date regime record. The newest
// row is the active regime every worker reads at cycle start.
type MarketRegimeAlert struct {
	Date           string  `json:"date"`
	CompositeScore float64 `json:"composite_score"`
	EntryRiskScore float64 `json:"entry_risk_score"`
	Regime         string  `json:"regime"`

	SPYDCount    int    `json:"spy_d_count"`
	QQQDCount    int    `json:"qqq_d_count"`
	SPY5DayDelta int    `json:"spy_5day_delta"`
	QQQ5DayDelta int    `json:"qqq_5day_delta"`
	DDayTrend    string `json:"d_day_trend"`

	MarketPhase     string `json:"market_phase"`
	RallyDay        int    `json:"rally_day"`
	HasConfirmedFTD bool   `json:"has_confirmed_ftd"`

	ESChangePct *float64 `json:"es_change_pct,omitempty"`
	NQChangePct *float64 `json:"nq_change_pct,omitempty"`
	YMChangePct *float64 `json:"ym_change_pct,omitempty"`

	FearGreedScore  *float64 `json:"fear_greed_score,omitempty"`
	FearGreedRating string   `json:"fear_greed_rating,omitempty"`
	VIXClose        *float64 `json:"vix_close,omitempty"`

	ConfigVersion string    `json:"config_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DistributionDay is one qualifying institutional-selling day for an index
// symbol. Rows stop counting when they age past the rolling window or when
// price recovers 5% above the triggering close; the expired flag is set by
// the pruning pass so historical rows stay queryable.
type DistributionDay struct {
	Symbol      string    `json:"symbol"`
	Date        string    `json:"date"`
	PctChange   float64   `json:"pct_change"`
	VolumeRatio float64   `json:"volume_ratio"`
	Close       float64   `json:"close"`
	Stalling    bool      `json:"stalling"`
	Expired     bool      `json:"expired"`
	CreatedAt   time.Time `json:"created_at"`
}

// FTDState is the persisted follow-through-day tracker state for one index
// symbol. Rebuilt workers resume from this row; nothing in memory is
// authoritative.
type FTDState struct {
	Symbol         string     `json:"symbol"`
	Phase          string     `json:"phase"`
	RallyStartDate *time.Time `json:"rally_start_date,omitempty"`
	Day1Low        float64    `json:"day1_low"`
	LastFTDDate    *time.Time `json:"last_ftd_date,omitempty"`
	DDaysSinceFTD  int        `json:"ddays_since_ftd"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RallyDay returns which day of the rally attempt the given date is,
// counting the start date as day 1. Zero when no rally is running.
func (s *FTDState) RallyDay(asOf time.Time) int {
	if s.RallyStartDate == nil {
		return 0
	}
	d := int(asOf.Sub(*s.RallyStartDate).Hours()/24) + 1
	if d < 1 {
		return 0
	}
	return d
}
