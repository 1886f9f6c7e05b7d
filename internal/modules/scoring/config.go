package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConfigVersion pins the active rule table. Every Result carries the version
// it was scored under so historical grades stay auditable after the table
// changes.
const ConfigVersion = "sc1"

// Config is the scorer's full static rule table. It round-trips through JSON
// so the active table can live in settings under `scoring_config`; a
// malformed or inconsistent table is a startup error, never a runtime one.
type Config struct {
	Version string `json:"version"`

	// BaseScore is the neutral starting point every setup scores from. A
	// clean stage-1 base with acceptable RS should land at C, not F.
	BaseScore float64 `json:"base_score"`

	RS      RSPoints      `json:"rs"`
	Pattern PatternPoints `json:"pattern"`
	Stage   StagePoints   `json:"stage"`
	Depth   DepthPoints   `json:"depth"`
	Length  LengthPoints  `json:"length"`

	Grades  GradeScale `json:"grades"`
	RSFloor RSFloor    `json:"rs_floor"`
}

// RSPoints maps relative-strength rating bands to points.
type RSPoints struct {
	Elite      float64 `json:"elite"`      // 95-100
	Excellent  float64 `json:"excellent"`  // 90-94
	Good       float64 `json:"good"`       // 80-89
	Acceptable float64 `json:"acceptable"` // 70-79
	Weak       float64 `json:"weak"`       // below 70
}

// PatternPoints maps normalized base-pattern names to points. Names are
// matched after lowercasing and expanding "w/" to "with".
type PatternPoints struct {
	Tiers   map[string]float64 `json:"tiers"`
	Unknown float64            `json:"unknown"`
}

// StagePoints penalizes later-stage bases. Base-on-base notation (a
// parenthesized count like "2(2)") earns the bonus on top of the stage
// penalty.
type StagePoints struct {
	Stage1          float64 `json:"stage_1"`
	Stage2          float64 `json:"stage_2"`
	Stage3          float64 `json:"stage_3"`
	Stage4Plus      float64 `json:"stage_4_plus"`
	Late            float64 `json:"late"`
	BaseOnBaseBonus float64 `json:"base_on_base_bonus"`
}

// DepthPoints scores base depth (percent correction within the base).
type DepthPoints struct {
	TightMaxPct  float64 `json:"tight_max_pct"`
	NormalMaxPct float64 `json:"normal_max_pct"`
	DeepMaxPct   float64 `json:"deep_max_pct"`

	Tight     float64 `json:"tight"`
	Normal    float64 `json:"normal"`
	Deep      float64 `json:"deep"`
	Excessive float64 `json:"excessive"`
}

// LengthPoints scores base length in weeks.
type LengthPoints struct {
	LongMinWeeks float64 `json:"long_min_weeks"`
	MidMinWeeks  float64 `json:"mid_min_weeks"`

	Long  float64 `json:"long"`
	Mid   float64 `json:"mid"`
	Short float64 `json:"short"`
}

// GradeScale maps a summed score to a letter grade. Boundaries are
// inclusive minimums and must be strictly descending.
type GradeScale struct {
	APlus float64 `json:"a_plus"`
	A     float64 `json:"a"`
	BPlus float64 `json:"b_plus"`
	B     float64 `json:"b"`
	CPlus float64 `json:"c_plus"`
	C     float64 `json:"c"`
	D     float64 `json:"d"`
}

// RSFloor caps the grade for weak relative strength no matter how pretty
// the chart is. Applied after all scoring, static and dynamic.
type RSFloor struct {
	MinRating int    `json:"min_rating"`
	MaxGrade  string `json:"max_grade"`
}

// gradeOrder ranks grades from best to worst for floor comparisons.
var gradeOrder = []string{"A+", "A", "B+", "B", "C+", "C", "D", "F"}

// DefaultConfig returns the shipped rule table.
func DefaultConfig() Config {
	return Config{
		Version:   ConfigVersion,
		BaseScore: 6,

		RS: RSPoints{
			Elite:      5,
			Excellent:  4,
			Good:       2,
			Acceptable: 0,
			Weak:       -5,
		},
		Pattern: PatternPoints{
			Tiers: map[string]float64{
				"cup with handle": 10,
				"double bottom":   9,
				"cup":             9,
				"flat base":       8,
				"high tight flag": 8,
				"ascending base":  7,
				"saucer":          7,
				"consolidation":   6,
				"wedge":           6,
			},
			Unknown: 5,
		},
		Stage: StagePoints{
			Stage1:          0,
			Stage2:          -1,
			Stage3:          -4,
			Stage4Plus:      -8,
			Late:            -10,
			BaseOnBaseBonus: 2,
		},
		Depth: DepthPoints{
			TightMaxPct:  15,
			NormalMaxPct: 25,
			DeepMaxPct:   35,
			Tight:        1,
			Normal:       0,
			Deep:         -2,
			Excessive:    -5,
		},
		Length: LengthPoints{
			LongMinWeeks: 7,
			MidMinWeeks:  5,
			Long:         1,
			Mid:          0,
			Short:        -1,
		},
		Grades: GradeScale{
			APlus: 20,
			A:     15,
			BPlus: 12,
			B:     9,
			CPlus: 7,
			C:     5,
			D:     3,
		},
		RSFloor: RSFloor{
			MinRating: 70,
			MaxGrade:  "C",
		},
	}
}

// Load parses and validates a JSON rule table.
func Load(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects tables the scorer cannot evaluate consistently.
func (c Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("scoring config missing version")
	}
	if len(c.Pattern.Tiers) == 0 {
		return fmt.Errorf("scoring config %s has no pattern tiers", c.Version)
	}

	bounds := []float64{
		c.Grades.APlus, c.Grades.A, c.Grades.BPlus, c.Grades.B,
		c.Grades.CPlus, c.Grades.C, c.Grades.D,
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] >= bounds[i-1] {
			return fmt.Errorf("scoring config %s grade boundaries not strictly descending", c.Version)
		}
	}

	if c.Depth.TightMaxPct >= c.Depth.NormalMaxPct || c.Depth.NormalMaxPct >= c.Depth.DeepMaxPct {
		return fmt.Errorf("scoring config %s depth cutoffs not ascending", c.Version)
	}
	if c.Length.MidMinWeeks >= c.Length.LongMinWeeks {
		return fmt.Errorf("scoring config %s length cutoffs not ascending", c.Version)
	}

	if !validGrade(c.RSFloor.MaxGrade) {
		return fmt.Errorf("scoring config %s rs_floor max_grade %q unknown", c.Version, c.RSFloor.MaxGrade)
	}
	return nil
}

// Grade maps a summed score onto the scale.
func (g GradeScale) Grade(score float64) string {
	switch {
	case score >= g.APlus:
		return "A+"
	case score >= g.A:
		return "A"
	case score >= g.BPlus:
		return "B+"
	case score >= g.B:
		return "B"
	case score >= g.CPlus:
		return "C+"
	case score >= g.C:
		return "C"
	case score >= g.D:
		return "D"
	default:
		return "F"
	}
}

func validGrade(grade string) bool {
	for _, g := range gradeOrder {
		if g == grade {
			return true
		}
	}
	return false
}

// gradeRank returns the position of a grade in gradeOrder; unknown grades
// rank worst.
func gradeRank(grade string) int {
	for i, g := range gradeOrder {
		if g == grade {
			return i
		}
	}
	return len(gradeOrder)
}

// normalizePattern canonicalizes user-entered pattern names for tier lookup:
// lowercase, "w/" expanded to "with", separators collapsed to single spaces.
func normalizePattern(pattern string) string {
	p := strings.ToLower(strings.TrimSpace(pattern))
	p = strings.ReplaceAll(p, "w/", "with ")
	p = strings.ReplaceAll(p, "-", " ")
	p = strings.ReplaceAll(p, "_", " ")
	return strings.Join(strings.Fields(p), " ")
}
