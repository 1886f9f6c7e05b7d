package alerts

import (
	"time"

	"github.com/aristath/slimwatch/internal/domain"
)

// Severity levels, ordered from most to least urgent.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityProfit   = "profit"
	SeverityInfo     = "info"
	SeverityNeutral  = "neutral"
)

// Alert is one persisted alert record with the market snapshot taken at
// emission time.
type Alert struct {
	ID         string `json:"id"`
	PositionID *int64 `json:"position_id,omitempty"`
	Symbol     string `json:"symbol"`
	Type       string `json:"alert_type"`
	Subtype    string `json:"alert_subtype"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`

	Price          float64  `json:"price"`
	PivotAtAlert   *float64 `json:"pivot_at_alert,omitempty"`
	AvgCostAtAlert *float64 `json:"avg_cost_at_alert,omitempty"`
	PnLPctAtAlert  *float64 `json:"pnl_pct_at_alert,omitempty"`
	VolumeRatio    *float64 `json:"volume_ratio,omitempty"`
	MA21           *float64 `json:"ma21,omitempty"`
	MA50           *float64 `json:"ma50,omitempty"`
	Grade          string   `json:"grade"`
	Score          float64  `json:"score"`
	MarketRegime   string   `json:"market_regime"`
	StateAtAlert   float64  `json:"state_at_alert"`

	ContextSnapshot []byte `json:"-"`

	AlertTime    time.Time  `json:"alert_time"`
	Acknowledged bool       `json:"acknowledged"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	SentChannel  string     `json:"sent_channel,omitempty"`
}

// severityCatalog maps (type, subtype) to severity. Families whose every
// subtype shares one severity use the typeDefaults table instead.
var severityCatalog = map[string]map[string]string{
	domain.AlertTypeStop: {
		domain.SubtypeHardStop:     SeverityCritical,
		domain.SubtypeTrailingStop: SeverityCritical,
		domain.SubtypeStopWarning:  SeverityWarning,
	},
	domain.AlertTypeProfit: {
		domain.SubtypeTP1:           SeverityProfit,
		domain.SubtypeTP2:           SeverityProfit,
		domain.SubtypeEightWeekHold: SeverityInfo,
	},
	domain.AlertTypePyramid: {
		domain.SubtypeP1Ready:    SeverityInfo,
		domain.SubtypeP1Extended: SeverityInfo,
		domain.SubtypeP2Ready:    SeverityInfo,
		domain.SubtypeP2Extended: SeverityInfo,
	},
	domain.AlertTypeAdd: {
		domain.SubtypePullback: SeverityInfo,
	},
	domain.AlertTypeTechnical: {
		domain.SubtypeMA50Warning: SeverityWarning,
		domain.SubtypeMA50Sell:    SeverityCritical,
		domain.SubtypeTenWeekSell: SeverityCritical,
		domain.SubtypeEMA21Sell:   SeverityWarning,
		domain.SubtypeClimaxTop:   SeverityWarning,
	},
	domain.AlertTypeHealth: {
		domain.SubtypeHealthCritical: SeverityCritical,
		domain.SubtypeEarnings:       SeverityWarning,
		domain.SubtypeLateStage:      SeverityWarning,
	},
	domain.AlertTypeBreakout: {
		domain.SubtypeConfirmed:   SeverityInfo,
		domain.SubtypeInBuyZone:   SeverityInfo,
		domain.SubtypeApproaching: SeverityInfo,
		domain.SubtypeExtended:    SeverityWarning,
		domain.SubtypeSuppressed:  SeverityWarning,
	},
}

// typeDefaults covers families where every subtype maps to one severity.
var typeDefaults = map[string]string{
	domain.AlertTypeAltEntry: SeverityInfo,
	domain.AlertTypeMarket:   SeverityInfo,
}

// Severity resolves the severity for a (type, subtype) pair. Unknown pairs
// fall back to neutral rather than failing, so a new checker subtype can
// ship before the catalog learns about it.
func Severity(alertType, subtype string) string {
	if bySubtype, ok := severityCatalog[alertType]; ok {
		if sev, ok := bySubtype[subtype]; ok {
			return sev
		}
	}
	if sev, ok := typeDefaults[alertType]; ok {
		return sev
	}
	return SeverityNeutral
}
