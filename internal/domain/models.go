// Package domain provides core domain models and types.
package domain

import "time"

// Quote is a real-time snapshot for one symbol as served by the quote
// provider. Moving averages are optional; the gateway omits them for
// symbols it has no daily history for.
type Quote struct {
	Symbol       string    `json:"symbol"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Volume       float64   `json:"volume"`
	AvgVolume50D float64   `json:"avg_volume_50d"`
	MA21         *float64  `json:"ma_21,omitempty"`
	MA50         *float64  `json:"ma_50,omitempty"`
	MA200        *float64  `json:"ma_200,omitempty"`
	Time         time.Time `json:"time"`
}

// Spread returns the bid/ask spread as a fraction of the midpoint.
// Returns nil when either side of the book is missing.
func (q *Quote) Spread() *float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return nil
	}
	mid := (q.Bid + q.Ask) / 2
	if mid == 0 {
		return nil
	}
	spread := (q.Ask - q.Bid) / mid
	return &spread
}

// Bar is a single daily OHLCV bar.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// FearGreed is one reading from the sentiment feed. Score is 0-100.
type FearGreed struct {
	Date   time.Time `json:"date"`
	Score  float64   `json:"score"`
	Rating string    `json:"rating"`
}

// Position is a tracked instrument with its full entry/exit lifecycle.
// Shares are stored as float64 to match the REAL columns backing them.
type Position struct {
	ID        int64         `json:"id"`
	Symbol    string        `json:"symbol"`
	Portfolio string        `json:"portfolio"`
	State     PositionState `json:"state"`

	// Entry tranches (up to three buys)
	E1Shares float64    `json:"e1_shares"`
	E1Price  float64    `json:"e1_price"`
	E1Date   *time.Time `json:"e1_date,omitempty"`
	E2Shares float64    `json:"e2_shares"`
	E2Price  float64    `json:"e2_price"`
	E2Date   *time.Time `json:"e2_date,omitempty"`
	E3Shares float64    `json:"e3_shares"`
	E3Price  float64    `json:"e3_price"`
	E3Date   *time.Time `json:"e3_date,omitempty"`

	// Exit tranches (two profit levels)
	TP1Sold  float64    `json:"tp1_sold"`
	TP1Price float64    `json:"tp1_price"`
	TP1Date  *time.Time `json:"tp1_date,omitempty"`
	TP2Sold  float64    `json:"tp2_sold"`
	TP2Price float64    `json:"tp2_price"`
	TP2Date  *time.Time `json:"tp2_date,omitempty"`

	// Derived (recomputed on tranche edits)
	TotalShares   float64 `json:"total_shares"`
	AvgCost       float64 `json:"avg_cost"`
	CurrentPnLPct float64 `json:"current_pnl_pct"`
	StopPrice     float64 `json:"stop_price"`
	TP1Target     float64 `json:"tp1_target"`
	TP2Target     float64 `json:"tp2_target"`

	// Sticky-override flags: a manually set level survives recomputation
	StopIsManual bool `json:"stop_is_manual"`
	TP1IsManual  bool `json:"tp1_is_manual"`
	TP2IsManual  bool `json:"tp2_is_manual"`

	// Highest close observed while the position is open; trailing stop input
	RunningHigh float64 `json:"running_high"`

	// Chart metadata
	Pattern       string     `json:"pattern"`
	BaseStage     string     `json:"base_stage"`
	BaseDepth     float64    `json:"base_depth"`  // percent
	BaseLength    float64    `json:"base_length"` // weeks
	Pivot         float64    `json:"pivot"`
	PivotSetDate  *time.Time `json:"pivot_set_date,omitempty"`
	OriginalPivot float64    `json:"original_pivot"`

	// Ratings
	RSRating     int    `json:"rs_rating"`
	EPSRating    int    `json:"eps_rating"`
	CompRating   int    `json:"comp_rating"`
	ADRating     string `json:"ad_rating"`
	IndustryRank int    `json:"industry_rank"`
	FundCount    int    `json:"fund_count"`

	// Scoring cache
	EntryGrade string  `json:"entry_grade"`
	EntryScore float64 `json:"entry_score"`

	// Market-facing cache
	LastPrice     float64    `json:"last_price"`
	LastPriceTime *time.Time `json:"last_price_time,omitempty"`
	AvgVolume50D  float64    `json:"avg_volume_50d"`
	EarningsDate  *time.Time `json:"earnings_date,omitempty"`

	// Lifecycle flags
	NeedsSheetSync      bool       `json:"needs_sheet_sync"`
	WatchingExitedSince *time.Time `json:"watching_exited_since,omitempty"`
	MATestCount         int        `json:"ma_test_count"`

	// Exit record
	ExitDate   *time.Time `json:"exit_date,omitempty"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason string     `json:"exit_reason"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntryDate returns the first entry date, the anchor for holding-period math.
func (p *Position) EntryDate() *time.Time {
	return p.E1Date
}

// IsOpen reports whether the position holds shares (states 1 through 6).
func (p *Position) IsOpen() bool {
	return p.State >= StateEntered
}

// PositionHistory is one append-only field-change record.
type PositionHistory struct {
	ID           int64     `json:"id"`
	PositionID   int64     `json:"position_id"`
	FieldName    string    `json:"field_name"`
	OldValue     string    `json:"old_value"`
	NewValue     string    `json:"new_value"`
	ChangeSource string    `json:"change_source"`
	ChangedAt    time.Time `json:"changed_at"`
}

// Change sources recorded on history rows.
const (
	SourceManualEdit      = "manual_edit"
	SourceStateTransition = "state_transition"
	SourceSystemCalc      = "system_calc"
	SourceCurrent         = "current"
)

// Outcome is the final record written when a position closes, consumed by
// the offline learning subsystem.
type Outcome struct {
	ID          int64      `json:"id"`
	Symbol      string     `json:"symbol"`
	PositionID  int64      `json:"position_id"`
	Pattern     string     `json:"pattern"`
	BaseStage   string     `json:"base_stage"`
	BaseDepth   float64    `json:"base_depth"`
	BaseLength  float64    `json:"base_length"`
	RSRating    int        `json:"rs_rating"`
	EntryGrade  string     `json:"entry_grade"`
	EntryScore  float64    `json:"entry_score"`
	GrossPct    float64    `json:"gross_pct"`
	HoldingDays int        `json:"holding_days"`
	Outcome     string     `json:"outcome"`
	EntryDate   *time.Time `json:"entry_date,omitempty"`
	ExitDate    *time.Time `json:"exit_date,omitempty"`
	ExitReason  string     `json:"exit_reason"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Outcome classifications.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomePartial = "PARTIAL"
	OutcomeStopped = "STOPPED"
	OutcomeFailed  = "FAILED"
)
