package scoring

import (
	"strconv"
	"strings"
	"sync"

	"github.com/aristath/slimwatch/internal/domain"
)

// PositionAttrs is the single value shape the scorer accepts. Convert at the
// repository boundary; the scorer never sees a Position directly.
type PositionAttrs struct {
	Symbol     string
	RSRating   int
	Pattern    string
	BaseStage  string
	BaseDepth  float64 // percent
	BaseLength float64 // weeks
}

// AttrsFromPosition extracts the scored attributes from a position record.
func AttrsFromPosition(p *domain.Position) PositionAttrs {
	return PositionAttrs{
		Symbol:     p.Symbol,
		RSRating:   p.RSRating,
		Pattern:    p.Pattern,
		BaseStage:  p.BaseStage,
		BaseDepth:  p.BaseDepth,
		BaseLength: p.BaseLength,
	}
}

// Result is one scoring evaluation. Breakdown holds the points each factor
// contributed (after learned-weight scaling) keyed by factor name; only
// factors that were actually computed appear.
type Result struct {
	Score         float64            `json:"score"`
	Grade         string             `json:"grade"`
	Breakdown     map[string]float64 `json:"breakdown"`
	RSFloorActive bool               `json:"rs_floor_active"`
	ConfigVersion string             `json:"config_version"`
}

// Factor keys used in breakdowns and learned_weights rows.
const (
	FactorBase           = "base"
	FactorRSRating       = "rs_rating"
	FactorPattern        = "pattern"
	FactorStage          = "stage"
	FactorDepth          = "depth"
	FactorLength         = "length"
	FactorUpDownVolume   = "up_down_volume"
	FactorMA50Position   = "ma50_position"
	FactorSupportBounces = "support_bounces"
	FactorRSTrend        = "rs_trend"
	FactorVolumeDryUp    = "volume_dryup"
)

// Scorer evaluates setups against its rule-table snapshot. The snapshot and
// learned weights are replaced atomically between evaluations; a running
// evaluation always sees one consistent table.
type Scorer struct {
	mu      sync.RWMutex
	cfg     Config
	weights map[string]float64
}

// New builds a scorer over a validated config.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// ReplaceConfig swaps in a new rule table. Invalid tables are rejected and
// the current table stays active.
func (s *Scorer) ReplaceConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// SetLearnedWeights installs per-factor multipliers from the learning
// subsystem. Factors without a row keep the neutral 1.0.
func (s *Scorer) SetLearnedWeights(weights map[string]float64) {
	copied := make(map[string]float64, len(weights))
	for k, v := range weights {
		copied[k] = v
	}
	s.mu.Lock()
	s.weights = copied
	s.mu.Unlock()
}

func (s *Scorer) snapshot() (Config, map[string]float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.weights
}

// Score grades a setup. Static factors are always scored; dynamic factors
// require at least minDynamicBars of daily history, and the RS trend also
// needs an index reference series. Pure and deterministic for a given
// config version.
func (s *Scorer) Score(attrs PositionAttrs, bars, index []domain.Bar) Result {
	cfg, weights := s.snapshot()

	breakdown := map[string]float64{
		FactorBase: cfg.BaseScore,
	}
	total := cfg.BaseScore
	add := func(factor string, points float64) {
		w, ok := weights[factor]
		if !ok {
			w = 1.0
		}
		breakdown[factor] = points * w
		total += points * w
	}

	add(FactorRSRating, rsPoints(cfg.RS, attrs.RSRating))
	add(FactorPattern, patternPoints(cfg.Pattern, attrs.Pattern))
	add(FactorStage, stagePoints(cfg.Stage, attrs.BaseStage))
	add(FactorDepth, depthPoints(cfg.Depth, attrs.BaseDepth))
	add(FactorLength, lengthPoints(cfg.Length, attrs.BaseLength))

	if len(bars) >= minDynamicBars {
		if pts, ok := upDownVolumeScore(bars); ok {
			add(FactorUpDownVolume, pts)
		}
		if pts, ok := ma50PositionScore(bars); ok {
			add(FactorMA50Position, pts)
		}
		if pts, ok := supportBounceScore(bars); ok {
			add(FactorSupportBounces, pts)
		}
		if pts, ok := rsTrendScore(bars, index); ok {
			add(FactorRSTrend, pts)
		}
		if pts, ok := volumeDryUpScore(bars); ok {
			add(FactorVolumeDryUp, pts)
		}
	}

	grade := cfg.Grades.Grade(total)
	floored := false
	if attrs.RSRating < cfg.RSFloor.MinRating && gradeRank(grade) < gradeRank(cfg.RSFloor.MaxGrade) {
		grade = cfg.RSFloor.MaxGrade
		floored = true
	}

	return Result{
		Score:         total,
		Grade:         grade,
		Breakdown:     breakdown,
		RSFloorActive: floored,
		ConfigVersion: cfg.Version,
	}
}

func rsPoints(p RSPoints, rating int) float64 {
	switch {
	case rating >= 95:
		return p.Elite
	case rating >= 90:
		return p.Excellent
	case rating >= 80:
		return p.Good
	case rating >= 70:
		return p.Acceptable
	default:
		return p.Weak
	}
}

func patternPoints(p PatternPoints, pattern string) float64 {
	if pts, ok := p.Tiers[normalizePattern(pattern)]; ok {
		return pts
	}
	return p.Unknown
}

// stagePoints parses base-stage notation: a leading stage number, an
// optional parenthesized base-on-base count ("2(2)"), or the word "late"
// anywhere for late-stage bases.
func stagePoints(p StagePoints, stage string) float64 {
	s := strings.ToLower(strings.TrimSpace(stage))
	if s == "" {
		return p.Stage1
	}
	if strings.Contains(s, "late") {
		return p.Late
	}

	bonus := 0.0
	if i := strings.IndexByte(s, '('); i >= 0 {
		bonus = p.BaseOnBaseBonus
		s = s[:i]
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return p.Stage1 + bonus
	}

	switch {
	case n <= 1:
		return p.Stage1 + bonus
	case n == 2:
		return p.Stage2 + bonus
	case n == 3:
		return p.Stage3 + bonus
	default:
		return p.Stage4Plus + bonus
	}
}

func depthPoints(p DepthPoints, depthPct float64) float64 {
	switch {
	case depthPct <= p.TightMaxPct:
		return p.Tight
	case depthPct <= p.NormalMaxPct:
		return p.Normal
	case depthPct <= p.DeepMaxPct:
		return p.Deep
	default:
		return p.Excessive
	}
}

func lengthPoints(p LengthPoints, weeks float64) float64 {
	switch {
	case weeks >= p.LongMinWeeks:
		return p.Long
	case weeks >= p.MidMinWeeks:
		return p.Mid
	default:
		return p.Short
	}
}
