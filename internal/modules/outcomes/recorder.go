package outcomes

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

// Classification cutoffs, in gross percent.
const (
	successMinPct = 20.0
	stopLossPct   = -5.0
)

// Classify buckets a closed trade for the learning table. Winners are
// SUCCESS or PARTIAL on size alone; losers are STOPPED when the stop did
// its job (by reason or by landing at/under the stop-loss band) and FAILED
// otherwise.
func Classify(grossPct float64, exitReason string) string {
	reason := strings.ToLower(exitReason)
	switch {
	case grossPct >= successMinPct:
		return domain.OutcomeSuccess
	case grossPct > 0:
		return domain.OutcomePartial
	case strings.Contains(reason, "stop") || grossPct <= stopLossPct:
		return domain.OutcomeStopped
	default:
		return domain.OutcomeFailed
	}
}

// BuildOutcome derives the learning record from a closed position's tranches
// and exit fields. Realized P&L: profit-taking sales at their prices plus the
// remainder at the exit price, against the full acquisition cost.
func BuildOutcome(p *domain.Position) (*domain.Outcome, error) {
	acquired := p.E1Shares + p.E2Shares + p.E3Shares
	cost := p.E1Shares*p.E1Price + p.E2Shares*p.E2Price + p.E3Shares*p.E3Price
	if acquired <= 0 || cost <= 0 {
		return nil, fmt.Errorf("position %d (%s) has no recorded entries", p.ID, p.Symbol)
	}

	remaining := acquired - p.TP1Sold - p.TP2Sold
	if remaining < 0 {
		remaining = 0
	}
	proceeds := p.TP1Sold*p.TP1Price + p.TP2Sold*p.TP2Price + remaining*p.ExitPrice
	grossPct := (proceeds - cost) / cost * 100

	holdingDays := 0
	if p.E1Date != nil && p.ExitDate != nil {
		holdingDays = int(p.ExitDate.Sub(*p.E1Date).Hours() / 24)
		if holdingDays < 0 {
			holdingDays = 0
		}
	}

	return &domain.Outcome{
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Pattern:     p.Pattern,
		BaseStage:   p.BaseStage,
		BaseDepth:   p.BaseDepth,
		BaseLength:  p.BaseLength,
		RSRating:    p.RSRating,
		EntryGrade:  p.EntryGrade,
		EntryScore:  p.EntryScore,
		GrossPct:    grossPct,
		HoldingDays: holdingDays,
		Outcome:     Classify(grossPct, p.ExitReason),
		EntryDate:   p.E1Date,
		ExitDate:    p.ExitDate,
		ExitReason:  p.ExitReason,
	}, nil
}

type positionSource interface {
	GetByID(id int64) (*domain.Position, error)
}

// Recorder listens for position lifecycle events and writes outcome rows
// when a held position reaches a terminal state.
type Recorder struct {
	repo      *Repository
	positions positionSource
	log       zerolog.Logger
}

// NewRecorder creates a recorder backed by the outcomes repository.
func NewRecorder(repo *Repository, positions positionSource, log zerolog.Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		positions: positions,
		log:       log.With().Str("component", "outcome_recorder").Logger(),
	}
}

// Register subscribes the recorder to position state changes on the bus.
func (rec *Recorder) Register(bus *events.Bus) {
	bus.Subscribe(events.PositionStateChanged, rec.onStateChange)
}

func (rec *Recorder) onStateChange(e *events.Event) {
	data, ok := e.GetTypedData().(*events.PositionStateChangedData)
	if !ok || data == nil {
		return
	}

	from := domain.PositionState(data.FromState)
	to := domain.PositionState(data.ToState)

	// Only a held position reaching a terminal state concludes a trade.
	// Watchlist removals never risked capital, and the re-entry watch
	// keeps the position alive.
	if from < domain.StateEntered || !to.IsTerminal() {
		return
	}

	if err := rec.RecordClose(data.PositionID); err != nil {
		rec.log.Error().Err(err).
			Int64("position_id", data.PositionID).
			Str("symbol", data.Symbol).
			Msg("Failed to record trade outcome")
	}
}

// RecordClose fetches the closed position and writes its outcome row. Safe
// to call repeatedly; only the first write lands.
func (rec *Recorder) RecordClose(positionID int64) error {
	p, err := rec.positions.GetByID(positionID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("position %d not found", positionID)
	}

	o, err := BuildOutcome(p)
	if err != nil {
		rec.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Skipping outcome for close without entries")
		return nil
	}

	inserted, err := rec.repo.Record(o)
	if err != nil {
		return err
	}
	if inserted {
		rec.log.Info().
			Str("symbol", o.Symbol).
			Str("outcome", o.Outcome).
			Float64("gross_pct", o.GrossPct).
			Int("holding_days", o.HoldingDays).
			Msg("Recorded trade outcome")
	}
	return nil
}
