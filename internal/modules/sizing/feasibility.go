package sizing

import (
	"fmt"
	"math"
	"strings"
)

// ADVHealth grades a symbol's average daily volume against liquidity floors.
type ADVHealth string

const (
	ADVPass    ADVHealth = "PASS"
	ADVCaution ADVHealth = "CAUTION"
	ADVFail    ADVHealth = "FAIL"
)

// SpreadRating classifies the bid/ask spread as a fraction of the midpoint.
type SpreadRating string

const (
	SpreadTight  SpreadRating = "TIGHT"
	SpreadNormal SpreadRating = "NORMAL"
	SpreadWide   SpreadRating = "WIDE"
)

// Risk is the overall execution-risk verdict for a sized position.
type Risk string

const (
	RiskLow        Risk = "LOW"
	RiskModerate   Risk = "MODERATE"
	RiskHigh       Risk = "HIGH"
	RiskDoNotTrade Risk = "DO_NOT_TRADE"
)

// Liquidity floors, spread bands, and ADV-consumption cutoffs. Values are
// fractions except the ADV floors, which are shares per day.
const (
	advPassMin    = 500_000.0
	advCautionMin = 400_000.0

	spreadTightMax  = 0.0010
	spreadNormalMax = 0.0030
	spreadSevereMin = 0.0100

	pctOfADVBlock    = 0.05
	pctOfADVHigh     = 0.02
	pctOfADVModerate = 0.01
)

// Input carries everything needed to size one candidate position.
type Input struct {
	Grade          string
	Pivot          float64
	AvgDailyVolume float64
	PortfolioValue float64
	// Spread is the bid/ask spread as a fraction of the midpoint, when a
	// live quote is available. Nil means no quote.
	Spread *float64
}

// Feasibility is the sizing and liquidity verdict for one candidate.
type Feasibility struct {
	Grade           string       `json:"grade"`
	AllocationPct   float64      `json:"allocation_pct"`
	PositionDollars float64      `json:"position_dollars"`
	SharesNeeded    int64        `json:"shares_needed"`
	PctOfADV        float64      `json:"pct_of_adv"`
	ADVHealth       ADVHealth    `json:"adv_health"`
	SpreadRating    SpreadRating `json:"spread_rating,omitempty"`
	Risk            Risk         `json:"risk"`
}

// AllocationForGrade returns the target portfolio allocation for an entry
// grade. Conviction buys (A-tier) get a half position of the portfolio,
// B-tier a starter, C-tier a probe; anything weaker sizes to zero.
func AllocationForGrade(grade string) float64 {
	switch strings.ToUpper(strings.TrimSpace(grade)) {
	case "A+", "A":
		return 0.50
	case "B+", "B":
		return 0.30
	case "C+", "C":
		return 0.20
	default:
		return 0
	}
}

// Calculate sizes a full position for the grade and rates how hard it would
// be to execute against the symbol's liquidity. A severe spread forces the
// risk to at least HIGH no matter how small the position is.
func Calculate(in Input) (*Feasibility, error) {
	if in.Pivot <= 0 {
		return nil, fmt.Errorf("pivot must be positive, got %.4f", in.Pivot)
	}
	if in.PortfolioValue < 0 {
		return nil, fmt.Errorf("portfolio value cannot be negative, got %.2f", in.PortfolioValue)
	}
	if in.AvgDailyVolume < 0 {
		return nil, fmt.Errorf("average daily volume cannot be negative, got %.0f", in.AvgDailyVolume)
	}

	f := &Feasibility{
		Grade:         strings.ToUpper(strings.TrimSpace(in.Grade)),
		AllocationPct: AllocationForGrade(in.Grade),
	}
	f.PositionDollars = in.PortfolioValue * f.AllocationPct
	f.SharesNeeded = int64(math.Floor(f.PositionDollars / in.Pivot))

	f.ADVHealth = advHealth(in.AvgDailyVolume)
	if in.AvgDailyVolume > 0 {
		f.PctOfADV = float64(f.SharesNeeded) / in.AvgDailyVolume
	}
	if in.Spread != nil {
		f.SpreadRating = spreadRating(*in.Spread)
	}

	f.Risk = overallRisk(f.ADVHealth, f.PctOfADV)
	if in.Spread != nil && *in.Spread >= spreadSevereMin && f.Risk != RiskDoNotTrade {
		f.Risk = RiskHigh
	}
	return f, nil
}

func advHealth(adv float64) ADVHealth {
	switch {
	case adv >= advPassMin:
		return ADVPass
	case adv >= advCautionMin:
		return ADVCaution
	default:
		return ADVFail
	}
}

func spreadRating(spread float64) SpreadRating {
	switch {
	case spread <= spreadTightMax:
		return SpreadTight
	case spread <= spreadNormalMax:
		return SpreadNormal
	default:
		return SpreadWide
	}
}

func overallRisk(adv ADVHealth, pctOfADV float64) Risk {
	switch {
	case adv == ADVFail || pctOfADV > pctOfADVBlock:
		return RiskDoNotTrade
	case pctOfADV > pctOfADVHigh:
		return RiskHigh
	case pctOfADV > pctOfADVModerate || adv == ADVCaution:
		return RiskModerate
	default:
		return RiskLow
	}
}
