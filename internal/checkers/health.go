package checkers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/slimwatch/internal/domain"
)

// HealthChecker aggregates slow-moving risk signals: a composite health
// score over P&L, the moving-average stack, relative strength and selling
// volume; upcoming earnings; and late-stage bases that have used up their
// holding horizon.
type HealthChecker struct {
	cfg Config
}

func NewHealthChecker(cfg Config) *HealthChecker {
	return &HealthChecker{cfg: cfg}
}

func (c *HealthChecker) Name() string { return "health" }

func (c *HealthChecker) Check(ctx *domain.PositionContext) []domain.AlertData {
	if ctx.State < domain.StateEntered || ctx.CurrentPrice <= 0 {
		return nil
	}

	var out []domain.AlertData
	if a, ok := c.checkComposite(ctx); ok {
		out = append(out, a)
	}
	if a, ok := c.checkEarnings(ctx); ok {
		out = append(out, a)
	}
	if a, ok := c.checkLateStage(ctx); ok {
		out = append(out, a)
	}
	return out
}

// HealthScore grades the position 0-100. Each deduction reflects one of
// the classic sell signals; the composite alert fires when enough of them
// stack up at once.
func (c *HealthChecker) HealthScore(ctx *domain.PositionContext) int {
	score := 100

	switch {
	case ctx.PnLPct <= -5:
		score -= 40
	case ctx.PnLPct <= -3:
		score -= 25
	case ctx.PnLPct < 0:
		score -= 10
	}

	if ctx.MA50 != nil && *ctx.MA50 > 0 && ctx.CurrentPrice < *ctx.MA50 {
		score -= 20
	}
	if ctx.MA21 != nil && *ctx.MA21 > 0 && ctx.CurrentPrice < *ctx.MA21 {
		score -= 10
	}

	switch {
	case ctx.RSRating > 0 && ctx.RSRating < 70:
		score -= 15
	case ctx.RSRating > 0 && ctx.RSRating < 80:
		score -= 5
	}

	if ctx.VolumeRatio != nil && *ctx.VolumeRatio > 1.5 && ctx.PnLPct < 0 {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	return score
}

func (c *HealthChecker) checkComposite(ctx *domain.PositionContext) (domain.AlertData, bool) {
	score := c.HealthScore(ctx)
	if score >= c.cfg.HealthCriticalBelow {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s position health is critical (%d/100): %+.1f%% with deteriorating technicals",
		ctx.Symbol, score, ctx.PnLPct)
	return newAlert(ctx, domain.AlertTypeHealth, domain.SubtypeHealthCritical, msg), true
}

func (c *HealthChecker) checkEarnings(ctx *domain.PositionContext) (domain.AlertData, bool) {
	if ctx.EarningsDate == nil {
		return domain.AlertData{}, false
	}
	days := int(ctx.EarningsDate.Sub(ctx.Now).Hours() / 24)
	if days < 0 || days > c.cfg.EarningsCautionDays {
		return domain.AlertData{}, false
	}
	var msg string
	if days <= c.cfg.EarningsCriticalDays {
		msg = fmt.Sprintf("%s reports earnings in %d days; decide whether to hold through", ctx.Symbol, days)
	} else {
		msg = fmt.Sprintf("%s reports earnings in %d days", ctx.Symbol, days)
	}
	return newAlert(ctx, domain.AlertTypeHealth, domain.SubtypeEarnings, msg), true
}

// checkLateStage flags positions built on a late-stage base once they have
// also used up the normal holding horizon. Late bases fail more often, so
// they get a shorter leash.
func (c *HealthChecker) checkLateStage(ctx *domain.PositionContext) (domain.AlertData, bool) {
	stage, ok := baseStageNumber(ctx.BaseStage)
	if !ok || stage < c.cfg.LateStageMinStage {
		return domain.AlertData{}, false
	}
	if ctx.DaysHeld() < c.cfg.LateStageMinDays {
		return domain.AlertData{}, false
	}
	msg := fmt.Sprintf("%s is a stage-%d base held %d days; late-stage bases deserve tighter management",
		ctx.Symbol, stage, ctx.DaysHeld())
	return newAlert(ctx, domain.AlertTypeHealth, domain.SubtypeLateStage, msg), true
}

// baseStageNumber pulls the leading stage count out of notations like
// "3(2)" or "2". Unparseable input reports false.
func baseStageNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i := strings.IndexAny(s, "(."); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
