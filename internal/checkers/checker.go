// Package checkers holds the rule evaluators the workers run against
// position context snapshots. Each checker is independent: it inspects one
// context, returns zero or more alerts, and skips any rule whose required
// fields are missing. Checkers never talk to providers or repositories.
package checkers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

// Checker evaluates one position context against a rule family.
type Checker interface {
	Name() string
	Check(ctx *domain.PositionContext) []domain.AlertData
}

// Config carries every checker threshold. Values are fractions unless the
// name says otherwise. DefaultConfig matches the settings-table defaults;
// the container overrides from settings at wire time.
type Config struct {
	// Stop rules
	StopWarnPct      float64 // band above the stop that pre-warns
	TrailPct         float64 // trailing distance off the running high
	TrailMinGainMult float64 // trailing floor as a multiple of avg cost

	// Profit rules
	EightWeekHoldDays   int
	EightWeekWindowDays int
	EightWeekMinPnLPct  float64

	// Pyramid zones, as gain over avg cost
	P1TriggerPct  float64
	P1ExtendedPct float64
	P2TriggerPct  float64
	P2ExtendedPct float64
	PullbackBand  float64 // closeness to the 21-EMA that counts as a pullback

	// Moving-average rules
	MA50WarnBandPct    float64
	MA50SellMinVolume  float64
	EMA21SellSessions  int
	TenWeekMinVolume   float64
	ClimaxMinDays      int
	ClimaxExtensionPct float64
	ClimaxMinVolume    float64

	// Health rules
	HealthCriticalBelow  int
	EarningsCriticalDays int
	EarningsCautionDays  int
	LateStageMinStage    int
	LateStageMinDays     int

	// Breakout rules
	VolumeConfirmation float64 // rvol needed to call a breakout confirmed
	BuyZonePct         float64 // buy zone ceiling above the pivot
	ApproachingPct     float64 // band below the pivot that pre-alerts

	// Alternative entries
	BounceBandPct  float64 // closeness above an MA that reads as a bounce
	RetestBandPct  float64 // closeness to the original pivot for a retest
	ExtensionWatch float64 // running-high multiple over pivot that proves a prior extension
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		StopWarnPct:      0.02,
		TrailPct:         0.15,
		TrailMinGainMult: 1.10,

		EightWeekHoldDays:   56,
		EightWeekWindowDays: 7,
		EightWeekMinPnLPct:  20,

		P1TriggerPct:  0.025,
		P1ExtendedPct: 0.05,
		P2TriggerPct:  0.05,
		P2ExtendedPct: 0.08,
		PullbackBand:  0.01,

		MA50WarnBandPct:    0.02,
		MA50SellMinVolume:  1.0,
		EMA21SellSessions:  3,
		TenWeekMinVolume:   1.2,
		ClimaxMinDays:      60,
		ClimaxExtensionPct: 0.25,
		ClimaxMinVolume:    2.0,

		HealthCriticalBelow:  40,
		EarningsCriticalDays: 5,
		EarningsCautionDays:  10,
		LateStageMinStage:    3,
		LateStageMinDays:     40,

		VolumeConfirmation: 1.4,
		BuyZonePct:         0.05,
		ApproachingPct:     0.02,

		BounceBandPct:  0.015,
		RetestBandPct:  0.02,
		ExtensionWatch: 1.05,
	}
}

// newAlert builds the checker output with the context attached; the alert
// service derives severity from the (type, subtype) catalog.
func newAlert(ctx *domain.PositionContext, alertType, subtype, message string) domain.AlertData {
	return domain.AlertData{
		Symbol:     ctx.Symbol,
		PositionID: ctx.PositionID,
		Type:       alertType,
		Subtype:    subtype,
		Message:    message,
		Price:      ctx.CurrentPrice,
		Context:    ctx,
	}
}

// Suite runs a fixed list of checkers over a context. A panicking checker
// is logged and skipped; the rest still run. The suite keeps an advisory
// in-memory cooldown so a rule that stays true does not spam the alert
// service every cycle; the repository cooldown remains authoritative.
type Suite struct {
	checkers []Checker
	log      zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	ttl      time.Duration
}

// NewSuite builds a suite over the given checkers. ttl <= 0 disables the
// advisory cooldown.
func NewSuite(log zerolog.Logger, ttl time.Duration, checkers ...Checker) *Suite {
	return &Suite{
		checkers: checkers,
		log:      log.With().Str("component", "checker_suite").Logger(),
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
	}
}

// Run evaluates all checkers and returns alerts not advisory-suppressed.
func (s *Suite) Run(ctx *domain.PositionContext) []domain.AlertData {
	return s.run(ctx, false)
}

// RunStatus evaluates all checkers with the advisory cooldown bypassed and
// without recording emissions. Read surfaces use it to show the current
// rule state without consuming the cooldown.
func (s *Suite) RunStatus(ctx *domain.PositionContext) []domain.AlertData {
	return s.run(ctx, true)
}

func (s *Suite) run(ctx *domain.PositionContext, statusMode bool) []domain.AlertData {
	var out []domain.AlertData
	for _, c := range s.checkers {
		alerts := s.checkOne(c, ctx)
		for _, a := range alerts {
			if !statusMode && s.suppressed(a, ctx.Now) {
				continue
			}
			out = append(out, a)
		}
	}
	return out
}

func (s *Suite) checkOne(c Checker, ctx *domain.PositionContext) (alerts []domain.AlertData) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Str("checker", c.Name()).
				Str("symbol", ctx.Symbol).
				Interface("panic", r).
				Msg("Checker panicked")
			alerts = nil
		}
	}()
	return c.Check(ctx)
}

func (s *Suite) suppressed(a domain.AlertData, now time.Time) bool {
	if s.ttl <= 0 {
		return false
	}
	if now.IsZero() {
		now = time.Now()
	}
	key := fmt.Sprintf("%s|%s|%s", a.Symbol, a.Type, a.Subtype)

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSeen[key]; ok && now.Sub(last) < s.ttl {
		return true
	}
	s.lastSeen[key] = now
	return false
}
