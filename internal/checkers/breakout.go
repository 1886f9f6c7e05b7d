package checkers

import (
	"fmt"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/sizing"
)

// BreakoutChecker watches unentered candidates against their pivot. At
// most one alert fires per cycle, strongest condition first: a suppressed
// setup (market or grade says no) beats everything, then extended beats
// confirmed beats in-buy-zone beats approaching.
type BreakoutChecker struct {
	cfg Config
}

func NewBreakoutChecker(cfg Config) *BreakoutChecker {
	return &BreakoutChecker{cfg: cfg}
}

func (c *BreakoutChecker) Name() string { return "breakout" }

func (c *BreakoutChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.State != domain.StateWatching || ctx.CurrentPrice <= 0 || ctx.Pivot <= 0 {
		return nil
	}

	price, pivot := ctx.CurrentPrice, ctx.Pivot
	buyZoneTop := pivot * (1 + c.cfg.BuyZonePct)

	if price >= pivot && c.suppressed(ctx) {
		msg := fmt.Sprintf("%s cleared pivot %.2f but entry is suppressed (%s regime, grade %s)",
			ctx.Symbol, pivot, ctx.MarketRegime, ctx.Grade)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeBreakout, domain.SubtypeSuppressed, msg)}
	}

	switch {
	case price > buyZoneTop:
		msg := fmt.Sprintf("%s is extended %.1f%% past pivot %.2f; do not chase",
			ctx.Symbol, (price/pivot-1)*100, pivot)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeBreakout, domain.SubtypeExtended, msg)}

	case price > pivot && ctx.RVol != nil && *ctx.RVol >= c.cfg.VolumeConfirmation:
		msg := fmt.Sprintf("%s broke out above pivot %.2f on %.1fx relative volume",
			ctx.Symbol, pivot, *ctx.RVol)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeBreakout, domain.SubtypeConfirmed, msg)}

	case price >= pivot:
		msg := fmt.Sprintf("%s is in the buy zone (%.2f-%.2f) without volume confirmation",
			ctx.Symbol, pivot, buyZoneTop)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeBreakout, domain.SubtypeInBuyZone, msg)}

	case price >= pivot*(1-c.cfg.ApproachingPct):
		msg := fmt.Sprintf("%s is within %.1f%% of pivot %.2f",
			ctx.Symbol, (1-price/pivot)*100, pivot)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeBreakout, domain.SubtypeApproaching, msg)}
	}
	return nil
}

// suppressed reports whether the environment vetoes a new entry: a bearish
// market, or a grade below the allocation floor.
func (c *BreakoutChecker) suppressed(ctx *domain.PositionContext) bool {
	if ctx.MarketRegime == regime.RegimeBearish {
		return true
	}
	return ctx.Grade != "" && sizing.AllocationForGrade(ctx.Grade) == 0
}
