package scoring

import (
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/pkg/formulas"
)

// Dynamic-indicator windows. These are code constants rather than table
// entries: changing them changes scorer behavior, so they ride on
// ConfigVersion bumps like the static tables do.
const (
	// minDynamicBars gates all dynamic factors.
	minDynamicBars = 50

	// volumeWindow is the rolling window for up/down volume counting.
	volumeWindow = 50

	// maSlopeLookback is how far back the 50-MA is compared to call it
	// rising.
	maSlopeLookback = 10

	// belowRecentMaxDays splits a "recent" dip below the 50-MA from an
	// extended breakdown.
	belowRecentMaxDays = 5

	// bounceWeeks is how many trailing weeks are inspected for 10-week-MA
	// support bounces; bounceTouchPct is the touch band around the MA.
	bounceWeeks    = 10
	bounceTouchPct = 0.02

	// rsTrendWindow is the slope-fit window over the stock/index ratio;
	// rsTrendFlatBand is the relative slope below which the trend reads
	// flat.
	rsTrendWindow   = 20
	rsTrendFlatBand = 0.0005

	// dryUpRecentDays is the recent-volume window compared against the
	// rest of volumeWindow for dry-up detection.
	dryUpRecentDays = 5
)

// upDownVolumeScore counts above-average-volume up-days versus down-days
// over the rolling window and scores their ratio. Heavy accumulation
// (ratio >= 1.5) scores best; heavy distribution scores negative.
func upDownVolumeScore(bars []domain.Bar) (float64, bool) {
	if len(bars) < volumeWindow+1 {
		return 0, false
	}
	window := bars[len(bars)-volumeWindow:]

	volumes := make([]float64, len(window))
	for i, b := range window {
		volumes[i] = b.Volume
	}
	avgVol := formulas.Mean(volumes)
	if avgVol <= 0 {
		return 0, false
	}

	prevClose := bars[len(bars)-volumeWindow-1].Close
	upDays, downDays := 0, 0
	for _, b := range window {
		if b.Volume > avgVol {
			if b.Close > prevClose {
				upDays++
			} else if b.Close < prevClose {
				downDays++
			}
		}
		prevClose = b.Close
	}

	if downDays == 0 {
		if upDays > 0 {
			return 3, true
		}
		return 0, true
	}

	ratio := float64(upDays) / float64(downDays)
	switch {
	case ratio >= 1.5:
		return 3, true
	case ratio >= 1.2:
		return 2, true
	case ratio >= 1.1:
		return 1, true
	case ratio >= 0.9:
		return 0, true
	default:
		return -2, true
	}
}

// ma50PositionScore scores where price sits relative to the 50-day MA and
// whether that MA is rising. Time spent below distinguishes a recent dip
// from an extended breakdown.
func ma50PositionScore(bars []domain.Bar) (float64, bool) {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	series := formulas.CalculateSMASeries(closes, 50)
	if series == nil {
		return 0, false
	}

	last := len(series) - 1
	ma := series[last]
	if isNaN(ma) || ma <= 0 {
		return 0, false
	}
	d := formulas.CalculateDistanceFromMA(closes, ma)
	if d == nil {
		return 0, false
	}
	dist := *d

	rising := false
	if prevIdx := last - maSlopeLookback; prevIdx >= 0 && !isNaN(series[prevIdx]) {
		rising = ma > series[prevIdx]
	}

	switch {
	case dist > bounceTouchPct && rising:
		return 2, true
	case dist > bounceTouchPct:
		return 1, true
	case dist >= -bounceTouchPct:
		return 0, true
	}

	// Below the MA: count consecutive closes under it.
	daysBelow := 0
	for i := last; i >= 0 && !isNaN(series[i]); i-- {
		if closes[i] >= series[i] {
			break
		}
		daysBelow++
	}
	if daysBelow <= belowRecentMaxDays {
		return -1, true
	}
	return -2, true
}

// weeklyBar is a calendar-week aggregate of daily bars.
type weeklyBar struct {
	high  float64
	low   float64
	close float64
}

// resampleWeekly groups ascending daily bars into ISO-week aggregates.
func resampleWeekly(bars []domain.Bar) []weeklyBar {
	var weeks []weeklyBar
	lastKey := -1
	for _, b := range bars {
		year, week := b.Date.ISOWeek()
		key := year*100 + week
		if key != lastKey {
			weeks = append(weeks, weeklyBar{high: b.High, low: b.Low, close: b.Close})
			lastKey = key
			continue
		}
		w := &weeks[len(weeks)-1]
		if b.High > w.high {
			w.high = b.High
		}
		if b.Low < w.low {
			w.low = b.Low
		}
		w.close = b.Close
	}
	return weeks
}

// supportBounceScore inspects the trailing weeks for 10-week-MA support
// tests: a weekly low touching the MA band counts as a bounce when the week
// still closes above the MA, and as a breakdown when it closes below.
func supportBounceScore(bars []domain.Bar) (float64, bool) {
	weeks := resampleWeekly(bars)
	if len(weeks) < bounceWeeks+1 {
		return 0, false
	}

	bounces, breakdowns := 0, 0
	for i := len(weeks) - bounceWeeks; i < len(weeks); i++ {
		if i < 9 {
			continue
		}
		sum := 0.0
		for j := i - 9; j <= i; j++ {
			sum += weeks[j].close
		}
		ma := sum / 10
		if ma <= 0 {
			continue
		}

		w := weeks[i]
		touched := w.low <= ma*(1+bounceTouchPct) && w.low >= ma*(1-bounceTouchPct)
		if !touched {
			continue
		}
		if w.close > ma {
			bounces++
		} else {
			breakdowns++
		}
	}

	pts := 0.0
	switch {
	case bounces >= 3:
		pts = 3
	case bounces == 2:
		pts = 2
	case bounces == 1:
		pts = 1
	}
	if breakdowns > 0 {
		pts -= float64(minInt(breakdowns, 2))
		if pts < -2 {
			pts = -2
		}
	}
	return pts, true
}

// rsTrendScore fits a line over the stock/index price ratio. A ratio at its
// high over the overlap scores best; a falling ratio scores negative.
func rsTrendScore(bars, index []domain.Bar) (float64, bool) {
	n := len(bars)
	if len(index) < n {
		n = len(index)
	}
	if n < rsTrendWindow {
		return 0, false
	}

	stock := bars[len(bars)-n:]
	idx := index[len(index)-n:]

	ratios := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if idx[i].Close <= 0 {
			return 0, false
		}
		ratios = append(ratios, stock[i].Close/idx[i].Close)
	}

	last := ratios[len(ratios)-1]
	atHigh := true
	for _, r := range ratios {
		if r > last {
			atHigh = false
			break
		}
	}
	if atHigh {
		return 2, true
	}

	window := ratios[len(ratios)-rsTrendWindow:]
	slope := formulas.Slope(window)
	if slope == nil {
		return 0, false
	}
	mean := formulas.Mean(window)
	if mean <= 0 {
		return 0, false
	}

	rel := *slope / mean
	switch {
	case rel > rsTrendFlatBand:
		return 1, true
	case rel < -rsTrendFlatBand:
		return -1, true
	default:
		return 0, true
	}
}

// volumeDryUpScore rewards recent volume drying up against the window
// average. Quiet pullbacks beat noisy ones.
func volumeDryUpScore(bars []domain.Bar) (float64, bool) {
	if len(bars) < volumeWindow {
		return 0, false
	}
	window := bars[len(bars)-volumeWindow:]

	baseSum, recentSum := 0.0, 0.0
	split := len(window) - dryUpRecentDays
	for i, b := range window {
		if i < split {
			baseSum += b.Volume
		} else {
			recentSum += b.Volume
		}
	}

	base := baseSum / float64(split)
	if base <= 0 {
		return 0, false
	}
	recent := recentSum / float64(dryUpRecentDays)

	ratio := recent / base
	switch {
	case ratio < 0.5:
		return 2, true
	case ratio < 0.75:
		return 1, true
	default:
		return 0, true
	}
}

func isNaN(f float64) bool {
	return f != f
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
