package regime

import (
	"time"

	"github.com/aristath/slimwatch/internal/domain"
)

// FTDConfig carries the follow-through-day thresholds.
type FTDConfig struct {
	// CorrectionDDays starts a correction when the active count reaches it.
	CorrectionDDays int
	// PressureDDays downgrades a confirmed uptrend to under-pressure.
	PressureDDays int
	// MinRallyDay is the earliest rally day an FTD can confirm on.
	MinRallyDay int
	// MinGainPct is the index gain an FTD needs, in percent.
	MinGainPct float64
	// DecayDDays invalidates an FTD after this many subsequent D-Days.
	DecayDDays int
}

// DefaultFTDConfig matches the IBD-style defaults: correction at 6 D-Days,
// FTD on day 4+ with a 1.5% gain on rising volume.
func DefaultFTDConfig() FTDConfig {
	return FTDConfig{
		CorrectionDDays: 6,
		PressureDDays:   4,
		MinRallyDay:     4,
		MinGainPct:      1.5,
		DecayDDays:      5,
	}
}

// NewFTDState bootstraps tracker state for a symbol seen for the first
// time, choosing the phase from the current distribution count.
func (c FTDConfig) NewFTDState(symbol string, activeDDays int) *FTDState {
	phase := PhaseConfirmedUptrend
	switch {
	case activeDDays >= c.CorrectionDDays:
		phase = PhaseCorrection
	case activeDDays >= c.PressureDDays:
		phase = PhaseUptrendUnderPressure
	}
	return &FTDState{Symbol: symbol, Phase: phase}
}

// HasValidFTD reports whether a confirmed follow-through day is still in
// force: one happened and it has not decayed under subsequent D-Days.
func (c FTDConfig) HasValidFTD(s *FTDState) bool {
	return s.LastFTDDate != nil && s.DDaysSinceFTD < c.DecayDDays
}

// ProcessDay advances the tracker by one daily bar and returns the updated
// state. isNewDDay marks today as a fresh distribution day; activeDDays is
// the rolling count after today. The input state is not mutated.
func (c FTDConfig) ProcessDay(s *FTDState, prev, today domain.Bar, activeDDays int, isNewDDay bool) *FTDState {
	next := *s
	if isNewDDay && next.LastFTDDate != nil {
		next.DDaysSinceFTD++
	}

	gainPct := 0.0
	if prev.Close > 0 {
		gainPct = (today.Close - prev.Close) / prev.Close * 100
	}

	switch next.Phase {
	case PhaseConfirmedUptrend:
		switch {
		case activeDDays >= c.CorrectionDDays:
			next.Phase = PhaseCorrection
			next.clearRally()
		case activeDDays >= c.PressureDDays || (next.LastFTDDate != nil && next.DDaysSinceFTD >= c.DecayDDays):
			next.Phase = PhaseUptrendUnderPressure
		}

	case PhaseUptrendUnderPressure:
		switch {
		case activeDDays >= c.CorrectionDDays:
			next.Phase = PhaseCorrection
			next.clearRally()
		case activeDDays < c.PressureDDays && c.HasValidFTD(&next):
			next.Phase = PhaseConfirmedUptrend
		}

	case PhaseCorrection:
		// Any up-close off the lows starts counting as a rally attempt.
		if gainPct > 0 {
			start := today.Date
			next.Phase = PhaseRallyAttempt
			next.RallyStartDate = &start
			next.Day1Low = today.Low
		}

	case PhaseRallyAttempt:
		if today.Low < next.Day1Low {
			// Undercutting day 1's low kills the attempt.
			next.Phase = PhaseCorrection
			next.clearRally()
			break
		}
		rallyDay := next.RallyDay(today.Date)
		if rallyDay >= c.MinRallyDay && gainPct >= c.MinGainPct && today.Volume > prev.Volume {
			ftd := today.Date
			next.Phase = PhaseConfirmedUptrend
			next.LastFTDDate = &ftd
			next.DDaysSinceFTD = 0
		}

	default:
		// Unknown phase in the store; re-bootstrap conservatively.
		next = *c.NewFTDState(s.Symbol, activeDDays)
	}

	next.UpdatedAt = time.Now()
	return &next
}

func (s *FTDState) clearRally() {
	s.RallyStartDate = nil
	s.Day1Low = 0
}
