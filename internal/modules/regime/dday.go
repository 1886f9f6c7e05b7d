package regime

import (
	"math"

	"github.com/aristath/slimwatch/internal/domain"
)

// DDayConfig carries the detection thresholds. Percent values are in
// percent units (-0.2 means a 0.2% decline).
type DDayConfig struct {
	DeclineThresholdPct float64
	MinVolumeRatio      float64
	RoundingDecimals    int
	WindowSessions      int
	EnableStalling      bool
}

// DefaultDDayConfig matches the IBD-style defaults.
func DefaultDDayConfig() DDayConfig {
	return DDayConfig{
		DeclineThresholdPct: -0.2,
		MinVolumeRatio:      1.02,
		RoundingDecimals:    2,
		WindowSessions:      25,
		EnableStalling:      false,
	}
}

// stallingMaxGainPct bounds the small-gain stalling day: price up but less
// than this while volume rises and the close sits in the lower half of the
// day's range.
const stallingMaxGainPct = 0.4

// EvaluateDay checks whether today's bar is a distribution day against
// yesterday's. The decline percentage is rounded before the threshold
// comparison so borderline values behave the same across runs.
func (c DDayConfig) EvaluateDay(prev, today domain.Bar) (*DistributionDay, bool) {
	if prev.Close <= 0 || prev.Volume <= 0 {
		return nil, false
	}

	pctChange := roundTo((today.Close-prev.Close)/prev.Close*100, c.RoundingDecimals)
	volumeUp := today.Volume > prev.Volume*c.MinVolumeRatio

	if pctChange <= c.DeclineThresholdPct && volumeUp {
		return &DistributionDay{
			Date:        today.Date.Format("2006-01-02"),
			PctChange:   pctChange,
			VolumeRatio: today.Volume / prev.Volume,
			Close:       today.Close,
		}, true
	}

	if c.EnableStalling && volumeUp && pctChange > 0 && pctChange <= stallingMaxGainPct {
		if dayRange := today.High - today.Low; dayRange > 0 {
			if today.Close-today.Low < dayRange/2 {
				return &DistributionDay{
					Date:        today.Date.Format("2006-01-02"),
					PctChange:   pctChange,
					VolumeRatio: today.Volume / prev.Volume,
					Close:       today.Close,
					Stalling:    true,
				}, true
			}
		}
	}

	return nil, false
}

// DetectAll runs the detector over an ascending bar series and returns
// every qualifying day.
func (c DDayConfig) DetectAll(symbol string, bars []domain.Bar) []DistributionDay {
	var result []DistributionDay
	for i := 1; i < len(bars); i++ {
		if d, ok := c.EvaluateDay(bars[i-1], bars[i]); ok {
			d.Symbol = symbol
			result = append(result, *d)
		}
	}
	return result
}

// CountActiveAsOf counts distribution days still alive when bars[asOfIdx]
// is "today". A day stops counting once it is more than WindowSessions
// trading sessions old, or permanently once any later close reaches 5%
// above its triggering close.
func (c DDayConfig) CountActiveAsOf(ddays []DistributionDay, bars []domain.Bar, asOfIdx int) int {
	if asOfIdx < 0 || asOfIdx >= len(bars) {
		return 0
	}

	barIdx := make(map[string]int, len(bars))
	for i, b := range bars {
		barIdx[b.Date.Format("2006-01-02")] = i
	}

	count := 0
	for _, d := range ddays {
		idx, ok := barIdx[d.Date]
		if !ok || idx > asOfIdx {
			continue
		}
		if asOfIdx-idx > c.WindowSessions {
			continue
		}
		if recoveredSince(d, bars, idx, asOfIdx) {
			continue
		}
		count++
	}
	return count
}

// recoveredSince reports whether any close after the triggering bar up to
// asOfIdx reached the 5% recovery level.
func recoveredSince(d DistributionDay, bars []domain.Bar, triggerIdx, asOfIdx int) bool {
	level := d.Close * 1.05
	for i := triggerIdx + 1; i <= asOfIdx; i++ {
		if bars[i].Close >= level {
			return true
		}
	}
	return false
}

// FiveDayDelta returns today's active count minus the count five sessions
// ago: positive means distribution is accumulating.
func (c DDayConfig) FiveDayDelta(ddays []DistributionDay, bars []domain.Bar) int {
	today := len(bars) - 1
	if today < 0 {
		return 0
	}
	nowCount := c.CountActiveAsOf(ddays, bars, today)
	if today < 5 {
		return nowCount
	}
	return nowCount - c.CountActiveAsOf(ddays, bars, today-5)
}

// TrendFromDeltas buckets the combined 5-day deltas into a trend class.
func TrendFromDeltas(spyDelta, qqqDelta int) string {
	total := spyDelta + qqqDelta
	switch {
	case total > 0:
		return TrendWorsening
	case total < 0:
		return TrendImproving
	default:
		return TrendFlat
	}
}

// StaleDays returns the subset of ddays that no longer count as of the last
// bar, for flagging expired in the store.
func (c DDayConfig) StaleDays(ddays []DistributionDay, bars []domain.Bar) []DistributionDay {
	today := len(bars) - 1
	if today < 0 {
		return nil
	}

	barIdx := make(map[string]int, len(bars))
	for i, b := range bars {
		barIdx[b.Date.Format("2006-01-02")] = i
	}

	var stale []DistributionDay
	for _, d := range ddays {
		idx, ok := barIdx[d.Date]
		if !ok {
			continue
		}
		if today-idx > c.WindowSessions || recoveredSince(d, bars, idx, today) {
			stale = append(stale, d)
		}
	}
	return stale
}

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
