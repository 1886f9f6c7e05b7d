package workers

import (
	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/checkers"
	"github.com/aristath/slimwatch/internal/domain"
)

// SignalScanner answers which rules would fire for one position right now.
// It runs the same suites the loops run, in status mode: the advisory
// cooldown is neither consulted nor consumed and nothing is persisted.
// The HTTP read API serves it under /api/positions/{id}/signals.
type SignalScanner struct {
	builder *ContextBuilder
	cell    *RegimeCell
	watch   *checkers.Suite
	held    *checkers.Suite
	reentry *checkers.Suite
	log     zerolog.Logger
}

// NewSignalScanner creates a scanner over the shared builder, the regime
// cell, and the per-state checker suites.
func NewSignalScanner(builder *ContextBuilder, cell *RegimeCell, watch, held, reentry *checkers.Suite, log zerolog.Logger) *SignalScanner {
	return &SignalScanner{
		builder: builder,
		cell:    cell,
		watch:   watch,
		held:    held,
		reentry: reentry,
		log:     log.With().Str("component", "signal_scanner").Logger(),
	}
}

// Scan builds a fresh context for the position and returns the rule hits
// for its state. Terminal states have no live rules and scan empty.
func (s *SignalScanner) Scan(p *domain.Position) ([]domain.AlertData, error) {
	suite := s.suiteFor(p)
	if suite == nil {
		return nil, nil
	}

	pctx, _, err := s.builder.Build(p, s.cell.Regime(), s.cell.SPYPrice())
	if err != nil {
		return nil, err
	}
	return suite.RunStatus(pctx), nil
}

func (s *SignalScanner) suiteFor(p *domain.Position) *checkers.Suite {
	switch {
	case p.State == domain.StateWatching:
		return s.watch
	case p.State == domain.StateWatchingExited:
		return s.reentry
	case p.IsOpen():
		return s.held
	default:
		return nil
	}
}
