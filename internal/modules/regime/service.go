package regime

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/events"
)

// Service wires the pure calculator to the store and the event bus. One
// RunForDate call is one full evaluation cycle: load tracker state,
// evaluate, persist every side-output, publish what changed.
type Service struct {
	repo *Repository
	calc *Calculator
	bus  *events.Bus
	log  zerolog.Logger
}

// NewService creates the regime service. Bus may be nil.
func NewService(repo *Repository, calc *Calculator, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		calc: calc,
		bus:  bus,
		log:  log.With().Str("component", "regime").Logger(),
	}
}

// Current returns the newest persisted regime record, or nil.
func (s *Service) Current() (*MarketRegimeAlert, error) {
	return s.repo.GetCurrent()
}

// History returns the persisted records between two dates inclusive,
// oldest first.
func (s *Service) History(from, to string) ([]MarketRegimeAlert, error) {
	return s.repo.GetRange(from, to)
}

// RunForDate evaluates the inputs and persists the resulting record,
// distribution days, and FTD states. Returns the upserted record.
func (s *Service) RunForDate(in Inputs) (*MarketRegimeAlert, error) {
	prev, err := s.repo.GetCurrent()
	if err != nil {
		return nil, err
	}

	spyBefore, err := s.repo.GetFTDState(in.SPY.Symbol)
	if err != nil {
		return nil, err
	}
	qqqBefore, err := s.repo.GetFTDState(in.QQQ.Symbol)
	if err != nil {
		return nil, err
	}

	eval := s.calc.Evaluate(in, spyBefore, qqqBefore)

	for _, d := range eval.NewDDays {
		inserted, err := s.repo.RecordDistributionDay(&d)
		if err != nil {
			return nil, err
		}
		if inserted {
			s.log.Info().
				Str("index", d.Symbol).
				Str("date", d.Date).
				Float64("pct_change", d.PctChange).
				Bool("stalling", d.Stalling).
				Msg("Distribution day recorded")
			s.emitDDay(d, eval)
		}
	}
	for _, d := range eval.StaleDDays {
		if err := s.repo.ExpireDistributionDay(d.Symbol, d.Date); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SaveFTDState(eval.SPYState); err != nil {
		return nil, err
	}
	if err := s.repo.SaveFTDState(eval.QQQState); err != nil {
		return nil, err
	}
	s.emitNewFTD(spyBefore, eval.SPYState, in.SPY, eval.Record.RallyDay)

	if err := s.repo.Upsert(&eval.Record); err != nil {
		return nil, err
	}

	if prev == nil || prev.Regime != eval.Record.Regime {
		from := ""
		if prev != nil {
			from = prev.Regime
		}
		s.log.Info().
			Str("from", from).
			Str("to", eval.Record.Regime).
			Float64("composite", eval.Record.CompositeScore).
			Str("phase", eval.Record.MarketPhase).
			Msg("Market regime changed")
		if s.bus != nil {
			s.bus.EmitData("regime", &events.RegimeChangedData{
				From:      from,
				To:        eval.Record.Regime,
				Composite: eval.Record.CompositeScore,
				DDayCount: maxInt(eval.Record.SPYDCount, eval.Record.QQQDCount),
				FTDPhase:  eval.Record.MarketPhase,
			})
		}
	}

	return &eval.Record, nil
}

func (s *Service) emitDDay(d DistributionDay, eval *Evaluation) {
	if s.bus == nil {
		return
	}
	count := eval.Record.SPYDCount
	if d.Symbol == eval.QQQState.Symbol {
		count = eval.Record.QQQDCount
	}
	s.bus.EmitData("regime", &events.DistributionDayAddedData{
		Index:     d.Symbol,
		Date:      d.Date,
		ChangePct: d.PctChange,
		Count:     count,
	})
}

// emitNewFTD publishes when today's evaluation confirmed a follow-through
// day that the prior state had not seen.
func (s *Service) emitNewFTD(before, after *FTDState, in IndexInput, rallyDay int) {
	if s.bus == nil || after.LastFTDDate == nil {
		return
	}
	if before != nil && before.LastFTDDate != nil && before.LastFTDDate.Equal(*after.LastFTDDate) {
		return
	}

	gainPct := 0.0
	if n := len(in.Bars); n >= 2 && in.Bars[n-2].Close > 0 {
		gainPct = (in.Bars[n-1].Close - in.Bars[n-2].Close) / in.Bars[n-2].Close * 100
	}
	s.bus.EmitData("regime", &events.FollowThroughDayData{
		Index:    in.Symbol,
		Date:     after.LastFTDDate.Format("2006-01-02"),
		GainPct:  gainPct,
		RallyDay: rallyDay,
	})
}

// ActiveDDayCount returns today's live count for a symbol straight from
// the store, for status surfaces that do not run an evaluation.
func (s *Service) ActiveDDayCount(symbol string) (int, error) {
	days, err := s.repo.GetActiveDistributionDays(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to count active distribution days: %w", err)
	}
	return len(days), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
