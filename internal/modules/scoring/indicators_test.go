package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/slimwatch/internal/domain"
)

func mkDaily(start time.Time, closes, volumes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i := range closes {
		bars[i] = domain.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   closes[i],
			High:   closes[i] * 1.01,
			Low:    closes[i] * 0.99,
			Close:  closes[i],
			Volume: volumes[i],
		}
	}
	return bars
}

// accumulationTape rises on heavy volume and rests on light volume.
func accumulationTape(n int) []domain.Bar {
	closes := make([]float64, n)
	volumes := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i > 0 {
			if i%2 == 0 {
				price += 1.0
			} else {
				price -= 0.2
			}
		}
		closes[i] = price
		if i%2 == 0 {
			volumes[i] = 2000
		} else {
			volumes[i] = 500
		}
	}
	return mkDaily(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes, volumes)
}

// distributionTape falls on heavy volume and bounces on light volume.
func distributionTape(n int) []domain.Bar {
	closes := make([]float64, n)
	volumes := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i > 0 {
			if i%2 == 0 {
				price -= 1.0
			} else {
				price += 0.2
			}
		}
		closes[i] = price
		if i%2 == 0 {
			volumes[i] = 2000
		} else {
			volumes[i] = 500
		}
	}
	return mkDaily(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes, volumes)
}

func constTape(n int, price, volume float64) ([]float64, []float64) {
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = price
		volumes[i] = volume
	}
	return closes, volumes
}

func TestUpDownVolumeScore(t *testing.T) {
	pts, ok := upDownVolumeScore(accumulationTape(60))
	require.True(t, ok)
	assert.Equal(t, 3.0, pts)

	pts, ok = upDownVolumeScore(distributionTape(60))
	require.True(t, ok)
	assert.Equal(t, -2.0, pts)

	_, ok = upDownVolumeScore(accumulationTape(50))
	assert.False(t, ok)
}

func TestMA50PositionScore(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Steady advance: price well above a rising 50-MA.
	closes := make([]float64, 120)
	volumes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
		volumes[i] = 1000
	}
	pts, ok := ma50PositionScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, 2.0, pts)

	// Steady decline: extended time below the MA.
	for i := range closes {
		closes[i] = 200 - 0.5*float64(i)
	}
	pts, ok = ma50PositionScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, -2.0, pts)

	// Oscillation around a flat MA, currently on the high side.
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 97
		} else {
			closes[i] = 103
		}
	}
	pts, ok = ma50PositionScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, 1.0, pts)

	// Fresh dip below after an advance reads recent, not extended.
	for i := range closes {
		closes[i] = 100 + 0.5*float64(i)
	}
	peak := closes[116]
	closes[117] = peak * 0.90
	closes[118] = peak * 0.90
	closes[119] = peak * 0.90
	pts, ok = ma50PositionScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, -1.0, pts)

	_, ok = ma50PositionScore(mkDaily(start, closes[:40], volumes[:40]))
	assert.False(t, ok)
}

// mkWeekly builds one bar per ISO week so weekly aggregation is the
// identity and the bounce math can be pinned precisely.
func mkWeekly(closes, lows []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	bars := make([]domain.Bar, len(closes))
	for i := range closes {
		bars[i] = domain.Bar{
			Date:   start.AddDate(0, 0, i*7),
			High:   closes[i] * 1.01,
			Low:    lows[i],
			Close:  closes[i],
			Volume: 1000,
		}
	}
	return bars
}

func TestSupportBounceScore(t *testing.T) {
	// 25 weeks advancing 2%/week: the 10-week MA sits ~8% under price, so
	// normal weekly lows never touch it.
	nominal := make([]float64, 25)
	price := 100.0
	for i := range nominal {
		nominal[i] = price
		price *= 1.02
	}

	closes := append([]float64(nil), nominal...)
	lows := make([]float64, len(nominal))
	for i := range lows {
		lows[i] = nominal[i] * 0.99
	}

	// Three pullbacks to the MA that hold: textbook support.
	for _, w := range []int{17, 20, 23} {
		lows[w] = nominal[w] * 0.92
	}
	pts, ok := supportBounceScore(mkWeekly(closes, lows))
	require.True(t, ok)
	assert.Equal(t, 3.0, pts)

	// Turn the last test into a failure: the week closes below the MA.
	closes[23] = nominal[23] * 0.88
	pts, ok = supportBounceScore(mkWeekly(closes, lows))
	require.True(t, ok)
	assert.Equal(t, 1.0, pts) // two bounces, one breakdown

	_, ok = supportBounceScore(mkWeekly(closes[:8], lows[:8]))
	assert.False(t, ok)
}

func TestResampleWeekly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	bars := []domain.Bar{
		{Date: start, High: 102, Low: 98, Close: 100},
		{Date: start.AddDate(0, 0, 1), High: 105, Low: 99, Close: 104},
		{Date: start.AddDate(0, 0, 4), High: 103, Low: 97, Close: 101},
		{Date: start.AddDate(0, 0, 7), High: 110, Low: 104, Close: 108},
	}

	weeks := resampleWeekly(bars)
	require.Len(t, weeks, 2)
	assert.Equal(t, 105.0, weeks[0].high)
	assert.Equal(t, 97.0, weeks[0].low)
	assert.Equal(t, 101.0, weeks[0].close)
	assert.Equal(t, 108.0, weeks[1].close)
}

func TestRSTrendScore(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	flat, vols := constTape(30, 100, 1000)
	index := mkDaily(start, flat, vols)

	// Stock outperforming steadily: ratio at its high.
	stockCloses := make([]float64, 30)
	for i := range stockCloses {
		stockCloses[i] = 100 * (1 + 0.01*float64(i))
	}
	pts, ok := rsTrendScore(mkDaily(start, stockCloses, vols), index)
	require.True(t, ok)
	assert.Equal(t, 2.0, pts)

	// Recovering but below an earlier peak: rising, not at high.
	for i := range stockCloses {
		switch {
		case i < 5:
			stockCloses[i] = 120
		default:
			stockCloses[i] = 100 + 0.5*float64(i-5)
		}
	}
	pts, ok = rsTrendScore(mkDaily(start, stockCloses, vols), index)
	require.True(t, ok)
	assert.Equal(t, 1.0, pts)

	// Lagging the index: falling ratio.
	for i := range stockCloses {
		stockCloses[i] = 150 - 0.5*float64(i)
	}
	pts, ok = rsTrendScore(mkDaily(start, stockCloses, vols), index)
	require.True(t, ok)
	assert.Equal(t, -1.0, pts)

	_, ok = rsTrendScore(mkDaily(start, stockCloses, vols), index[:10])
	assert.False(t, ok)

	_, ok = rsTrendScore(mkDaily(start, stockCloses, vols), nil)
	assert.False(t, ok)
}

func TestVolumeDryUpScore(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closes, volumes := constTape(50, 100, 1000)

	for i := 45; i < 50; i++ {
		volumes[i] = 400
	}
	pts, ok := volumeDryUpScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, 2.0, pts)

	for i := 45; i < 50; i++ {
		volumes[i] = 700
	}
	pts, ok = volumeDryUpScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, 1.0, pts)

	for i := 45; i < 50; i++ {
		volumes[i] = 1000
	}
	pts, ok = volumeDryUpScore(mkDaily(start, closes, volumes))
	require.True(t, ok)
	assert.Equal(t, 0.0, pts)

	_, ok = volumeDryUpScore(mkDaily(start, closes[:40], volumes[:40]))
	assert.False(t, ok)
}

func TestScoreIncludesDynamicFactors(t *testing.T) {
	scorer := New(DefaultConfig())
	attrs := PositionAttrs{
		RSRating: 82, Pattern: "Cup w/Handle", BaseStage: "2(2)",
		BaseDepth: 18, BaseLength: 8,
	}

	res := scorer.Score(attrs, accumulationTape(120), nil)

	assert.Equal(t, 3.0, res.Breakdown[FactorUpDownVolume])
	assert.Equal(t, 2.0, res.Breakdown[FactorMA50Position])
	assert.Contains(t, res.Breakdown, FactorSupportBounces)
	assert.Contains(t, res.Breakdown, FactorVolumeDryUp)

	// No index series, no RS trend.
	_, present := res.Breakdown[FactorRSTrend]
	assert.False(t, present)

	assert.Equal(t, 25.0, res.Score)
	assert.Equal(t, "A+", res.Grade)
}
