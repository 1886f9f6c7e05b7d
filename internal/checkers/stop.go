package checkers

import (
	"fmt"
	"math"

	"github.com/aristath/slimwatch/internal/domain"
)

// StopChecker guards the downside. Before first profits it watches the hard
// stop and a warning band above it; past TP1 the hard stop is replaced by a
// trailing stop off the running high, floored so it can never sit below the
// hard stop or below a minimum locked-in gain.
type StopChecker struct {
	cfg Config
}

func NewStopChecker(cfg Config) *StopChecker {
	return &StopChecker{cfg: cfg}
}

func (c *StopChecker) Name() string { return "stop" }

func (c *StopChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.State < domain.StateEntered || ctx.CurrentPrice <= 0 || ctx.StopPrice <= 0 {
		return nil
	}

	if ctx.PastTP1() {
		return c.checkTrailing(ctx)
	}
	return c.checkHard(ctx)
}

func (c *StopChecker) checkHard(ctx *domain.PositionContext) []domain.AlertData {
	price, stop := ctx.CurrentPrice, ctx.StopPrice

	if price <= stop {
		msg := fmt.Sprintf("%s hit hard stop: %.2f at or below stop %.2f", ctx.Symbol, price, stop)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeStop, domain.SubtypeHardStop, msg)}
	}
	if price <= stop*(1+c.cfg.StopWarnPct) {
		msg := fmt.Sprintf("%s approaching stop: %.2f is within %.1f%% of stop %.2f",
			ctx.Symbol, price, c.cfg.StopWarnPct*100, stop)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypeStop, domain.SubtypeStopWarning, msg)}
	}
	return nil
}

func (c *StopChecker) checkTrailing(ctx *domain.PositionContext) []domain.AlertData {
	level := c.TrailingLevel(ctx)
	if level <= 0 || ctx.CurrentPrice > level {
		return nil
	}
	msg := fmt.Sprintf("%s hit trailing stop: %.2f at or below %.2f (high %.2f, trail %.0f%%)",
		ctx.Symbol, ctx.CurrentPrice, level, ctx.RunningHigh, c.cfg.TrailPct*100)
	return []domain.AlertData{newAlert(ctx, domain.AlertTypeStop, domain.SubtypeTrailingStop, msg)}
}

// TrailingLevel computes the effective trailing stop. The running high only
// ever rises and the other two terms are fixed, so the level is monotonic
// for the life of the position.
func (c *StopChecker) TrailingLevel(ctx *domain.PositionContext) float64 {
	level := ctx.StopPrice
	level = math.Max(level, ctx.AvgCost*c.cfg.TrailMinGainMult)
	level = math.Max(level, ctx.RunningHigh*(1-c.cfg.TrailPct))
	return level
}
