package checkers

import (
	"fmt"

	"github.com/aristath/slimwatch/internal/domain"
)

// ProfitChecker flags profit-taking levels (TP1, TP2) and the eight-week
// hold milestone. Target alerts stop once the corresponding tranche has
// been sold; the state carries that.
type ProfitChecker struct {
	cfg Config
}

func NewProfitChecker(cfg Config) *ProfitChecker {
	return &ProfitChecker{cfg: cfg}
}

func (c *ProfitChecker) Name() string { return "profit" }

func (c *ProfitChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.State < domain.StateEntered || ctx.CurrentPrice <= 0 {
		return nil
	}

	var out []domain.AlertData

	if ctx.TP1Target > 0 && ctx.State < domain.StateTookProfit1 && ctx.CurrentPrice >= ctx.TP1Target {
		msg := fmt.Sprintf("%s reached TP1 target %.2f (now %.2f, %+.1f%%)",
			ctx.Symbol, ctx.TP1Target, ctx.CurrentPrice, ctx.PnLPct)
		out = append(out, newAlert(ctx, domain.AlertTypeProfit, domain.SubtypeTP1, msg))
	}

	if ctx.TP2Target > 0 && ctx.State < domain.StateTookProfit2 && ctx.CurrentPrice >= ctx.TP2Target {
		msg := fmt.Sprintf("%s reached TP2 target %.2f (now %.2f, %+.1f%%)",
			ctx.Symbol, ctx.TP2Target, ctx.CurrentPrice, ctx.PnLPct)
		out = append(out, newAlert(ctx, domain.AlertTypeProfit, domain.SubtypeTP2, msg))
	}

	if a, ok := c.checkEightWeek(ctx); ok {
		out = append(out, a)
	}
	return out
}

// checkEightWeek fires once the position turns eight calendar weeks old
// while holding a strong gain. Fast movers that clear the gain bar early
// qualify for the full hold instead of the usual profit-taking ladder.
func (c *ProfitChecker) checkEightWeek(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.EntryDate == nil || ctx.PnLPct < c.cfg.EightWeekMinPnLPct {
		return domain.AlertData{}, false
	}
	held := ctx.DaysHeld()
	if held < c.cfg.EightWeekHoldDays || held >= c.cfg.EightWeekHoldDays+c.cfg.EightWeekWindowDays {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s completed the eight-week hold up %+.1f%% (%d days held); reassess",
		ctx.Symbol, ctx.PnLPct, held)
	return newAlert(ctx, domain.AlertTypeProfit, domain.SubtypeEightWeekHold, msg), true
}
