package checkers

import (
	"fmt"

	"github.com/aristath/slimwatch/internal/domain"
)

// PyramidChecker watches for add-on windows. After the initial entry the
// first add readies a few percent above cost and goes stale once the stock
// runs past the extended cutoff; the second add follows the same shape at
// wider bands. A former extension that pulls back to the 21-EMA on quiet
// volume is flagged as a lower-risk add instead.
type PyramidChecker struct {
	cfg Config
}

func NewPyramidChecker(cfg Config) *PyramidChecker {
	return &PyramidChecker{cfg: cfg}
}

func (c *PyramidChecker) Name() string { return "pyramid" }

func (c *PyramidChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.CurrentPrice <= 0 || ctx.AvgCost <= 0 {
		return nil
	}

	switch ctx.State {
	case domain.StateEntered:
		return c.checkZone(ctx, c.cfg.P1TriggerPct, c.cfg.P1ExtendedPct,
			domain.SubtypeP1Ready, domain.SubtypeP1Extended, "first")
	case domain.StatePyramid1:
		return c.checkZone(ctx, c.cfg.P2TriggerPct, c.cfg.P2ExtendedPct,
			domain.SubtypeP2Ready, domain.SubtypeP2Extended, "second")
	}

	// Any holding state can re-add on a quiet pullback: positions past
	// the profit targets still carry shares.
	if ctx.State >= domain.StateEntered {
		if a, ok := c.checkPullback(ctx); ok {
			return []domain.AlertData{a}
		}
	}
	return nil
}

func (c *PyramidChecker) checkZone(ctx *domain.PositionContext, trigger, extended float64, readySub, extendedSub, ordinal string) []domain.AlertData {
	gain := (ctx.CurrentPrice - ctx.AvgCost) / ctx.AvgCost

	switch {
	case gain >= extended:
		msg := fmt.Sprintf("%s is %+.1f%% over cost, past the %s add zone (%.1f%%-%.1f%%); wait for a pullback",
			ctx.Symbol, gain*100, ordinal, trigger*100, extended*100)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypePyramid, extendedSub, msg)}
	case gain >= trigger:
		msg := fmt.Sprintf("%s is %+.1f%% over cost, in the %s add zone (%.1f%%-%.1f%%)",
			ctx.Symbol, gain*100, ordinal, trigger*100, extended*100)
		return []domain.AlertData{newAlert(ctx, domain.AlertTypePyramid, readySub, msg)}
	}

	if a, ok := c.checkPullback(ctx); ok {
		return []domain.AlertData{a}
	}
	return nil
}

// checkPullback fires when a stock that had run past its extended cutoff
// (the running high proves it) settles back onto the 21-EMA without heavy
// selling volume.
func (c *PyramidChecker) checkPullback(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA21 == nil || *ctx.MA21 <= 0 {
		return domain.AlertData{}, false
	}
	if ctx.RunningHigh < ctx.AvgCost*(1+c.cfg.P1ExtendedPct) {
		return domain.AlertData{}, false
	}
	ma := *ctx.MA21
	dist := (ctx.CurrentPrice - ma) / ma
	if dist < 0 || dist > c.cfg.PullbackBand {
		return domain.AlertData{}, false
	}
	if ctx.VolumeRatio != nil && *ctx.VolumeRatio > 1.0 {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s pulled back to the 21-EMA (%.2f) on quiet volume after extending; add window",
		ctx.Symbol, ma)
	return newAlert(ctx, domain.AlertTypeAdd, domain.SubtypePullback, msg), true
}
