package checkers

import (
	"fmt"
	"math"

	"github.com/aristath/slimwatch/internal/domain"
)

// AltEntryChecker surfaces lower-risk entries for names not currently
// held: a reclaim of the 21-EMA or 50-day line inside an intact uptrend,
// and a retest of the original pivot after the stock had run away from the
// buy zone.
type AltEntryChecker struct {
	cfg Config
}

func NewAltEntryChecker(cfg Config) *AltEntryChecker {
	return &AltEntryChecker{cfg: cfg}
}

func (c *AltEntryChecker) Name() string { return "alt_entry" }

func (c *AltEntryChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.CurrentPrice <= 0 {
		return nil
	}
	if ctx.State != domain.StateWatching && ctx.State != domain.StateWatchingExited {
		return nil
	}

	if a, ok := c.checkPivotRetest(ctx); ok {
		return []domain.AlertData{a}
	}
	if a, ok := c.checkBounce(ctx); ok {
		return []domain.AlertData{a}
	}
	return nil
}

// checkBounce prefers the tighter reference: the 21-EMA first, then the
// 50-day line. The stack must be in order (21 over 50) so a bounce is a
// continuation setup rather than a dead-cat inside a decline.
func (c *AltEntryChecker) checkBounce(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA21 != nil && ctx.MA50 != nil && *ctx.MA21 > *ctx.MA50 {
		if dist, ok := bandAbove(ctx.CurrentPrice, *ctx.MA21, c.cfg.BounceBandPct); ok {
			msg := fmt.Sprintf("%s is holding the 21-EMA (%.2f, %+.1f%%); possible entry off support",
				ctx.Symbol, *ctx.MA21, dist*100)
			return newAlert(ctx, domain.AlertTypeAltEntry, domain.SubtypeEMA21Bounce, msg), true
		}
	}
	if ctx.MA50 != nil {
		maAbove := ctx.MA21 == nil || *ctx.MA21 >= *ctx.MA50
		if dist, ok := bandAbove(ctx.CurrentPrice, *ctx.MA50, c.cfg.BounceBandPct); ok && maAbove {
			msg := fmt.Sprintf("%s is holding the 50-day line (%.2f, %+.1f%%); possible entry off support",
				ctx.Symbol, *ctx.MA50, dist*100)
			return newAlert(ctx, domain.AlertTypeAltEntry, domain.SubtypeMA50Bounce, msg), true
		}
	}
	return domain.AlertData{}, false
}

// checkPivotRetest fires when price comes back to the original pivot after
// the stock had extended past the buy zone. For a re-entry watch the prior
// exit already proves the extension; a plain watch item needs its running
// high to show it.
func (c *AltEntryChecker) checkPivotRetest(ctx *domain.PositionContext) (domain.AlertData, bool) {
	op := ctx.OriginalPivot
	if op <= 0 {
		return domain.AlertData{}, false
	}
	if math.Abs(ctx.CurrentPrice-op)/op > c.cfg.RetestBandPct {
		return domain.AlertData{}, false
	}
	wasExtended := ctx.State == domain.StateWatchingExited || ctx.RunningHigh > op*c.cfg.ExtensionWatch
	if !wasExtended {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s is retesting its original pivot %.2f after extending; second-chance entry",
		ctx.Symbol, op)
	return newAlert(ctx, domain.AlertTypeAltEntry, domain.SubtypePivotRetest, msg), true
}

// bandAbove reports the distance of price above ref when it sits inside
// the band [ref, ref*(1+band)].
func bandAbove(price, ref, band float64) (float64, bool) {
	if ref <= 0 {
		return 0, false
	}
	dist := (price - ref) / ref
	if dist < 0 || dist > band {
		return 0, false
	}
	return dist, true
}
