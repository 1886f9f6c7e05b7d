package checkers

import (
	"fmt"

	"github.com/aristath/slimwatch/internal/domain"
)

// MAChecker covers the moving-average sell rules: the 50-day line as the
// institutional support level, the 21-EMA for fast movers that have been
// riding it, the 10-week line as the weekly-chart backstop, and the climax
// run as the blow-off exit. Rules whose inputs are missing are skipped.
type MAChecker struct {
	cfg Config
}

func NewMAChecker(cfg Config) *MAChecker {
	return &MAChecker{cfg: cfg}
}

func (c *MAChecker) Name() string { return "moving_averages" }

func (c *MAChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.State < domain.StateEntered || ctx.CurrentPrice <= 0 {
		return nil
	}

	var out []domain.AlertData
	if a, ok := c.checkMA50(ctx); ok {
		out = append(out, a)
	}
	if a, ok := c.checkEMA21(ctx); ok {
		out = append(out, a)
	}
	if a, ok := c.checkTenWeek(ctx); ok {
		out = append(out, a)
	}
	if a, ok := c.checkClimax(ctx); ok {
		out = append(out, a)
	}
	return out
}

func (c *MAChecker) checkMA50(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA50 == nil || *ctx.MA50 <= 0 {
		return domain.AlertData{}, false
	}
	ma := *ctx.MA50
	price := ctx.CurrentPrice

	if price < ma {
		// A break below the 50-day is a sell only when sellers showed up.
		if ctx.VolumeRatio != nil && *ctx.VolumeRatio > c.cfg.MA50SellMinVolume {
			msg := fmt.Sprintf("%s broke the 50-day line (%.2f) on %.1fx volume", ctx.Symbol, ma, *ctx.VolumeRatio)
			return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeMA50Sell, msg), true
		}
		msg := fmt.Sprintf("%s is below the 50-day line (%.2f) without volume confirmation", ctx.Symbol, ma)
		return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeMA50Warning, msg), true
	}

	if (price-ma)/ma <= c.cfg.MA50WarnBandPct {
		msg := fmt.Sprintf("%s is within %.1f%% of the 50-day line (%.2f)", ctx.Symbol, c.cfg.MA50WarnBandPct*100, ma)
		return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeMA50Warning, msg), true
	}
	return domain.AlertData{}, false
}

// checkEMA21 fires after the configured number of consecutive sessions
// below the 21-EMA; the position worker maintains that count.
func (c *MAChecker) checkEMA21(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA21 == nil || *ctx.MA21 <= 0 {
		return domain.AlertData{}, false
	}
	if ctx.CurrentPrice >= *ctx.MA21 || ctx.MATestCount < c.cfg.EMA21SellSessions {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s has spent %d sessions below the 21-EMA (%.2f)", ctx.Symbol, ctx.MATestCount, *ctx.MA21)
	return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeEMA21Sell, msg), true
}

func (c *MAChecker) checkTenWeek(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA10Week == nil || *ctx.MA10Week <= 0 || ctx.VolumeRatio == nil {
		return domain.AlertData{}, false
	}
	if ctx.CurrentPrice >= *ctx.MA10Week || *ctx.VolumeRatio < c.cfg.TenWeekMinVolume {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s broke the 10-week line (%.2f) on %.1fx volume", ctx.Symbol, *ctx.MA10Week, *ctx.VolumeRatio)
	return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeTenWeekSell, msg), true
}

// checkClimax looks for a blow-off: a long-held winner stretched far above
// its 50-day line while volume surges.
func (c *MAChecker) checkClimax(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.MA50 == nil || *ctx.MA50 <= 0 || ctx.VolumeRatio == nil {
		return domain.AlertData{}, false
	}
	if ctx.DaysHeld() < c.cfg.ClimaxMinDays {
		return domain.AlertData{}, false
	}
	ext := (ctx.CurrentPrice - *ctx.MA50) / *ctx.MA50
	if ext < c.cfg.ClimaxExtensionPct || *ctx.VolumeRatio < c.cfg.ClimaxMinVolume {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s looks climactic: %.0f%% above the 50-day line on %.1fx volume after %d days",
		ctx.Symbol, ext*100, *ctx.VolumeRatio, ctx.DaysHeld())
	return newAlert(ctx, domain.AlertTypeTechnical, domain.SubtypeClimaxTop, msg), true
}
