package positions

import (
	"fmt"
	"time"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

// TransitionState moves a position to newState, applying the co-updated
// fields in the same transaction. The edge is validated against the state
// machine first; each required field must either arrive in fields or
// already be set on the position, otherwise the call fails with
// ErrMissingField and nothing is written.
func (r *Repository) TransitionState(id int64, newState domain.PositionState, fields map[string]interface{}) (*domain.Position, error) {
	current, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
	}

	required, err := domain.RequiredTransitionFields(current.State, newState)
	if err != nil {
		return nil, err
	}
	for _, name := range required {
		if _, ok := fields[name]; ok {
			continue
		}
		if fieldIsSet(current, name) {
			continue
		}
		return nil, fmt.Errorf("%w: %q for transition %s -> %s",
			domain.ErrMissingField, name, current.State, newState)
	}

	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["state"] = newState

	updated, err := r.Update(id, merged, domain.SourceStateTransition)
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("id", id).
		Str("symbol", updated.Symbol).
		Str("from", current.State.String()).
		Str("to", newState.String()).
		Msg("Position state changed")

	r.emitStateChange(updated, current.State, newState)
	return updated, nil
}

func (r *Repository) emitStateChange(p *domain.Position, from, to domain.PositionState) {
	if r.bus == nil {
		return
	}
	r.bus.EmitData("positions", &events.PositionStateChangedData{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		FromState:  float64(from),
		ToState:    float64(to),
		Source:     domain.SourceStateTransition,
	})
}

// fieldIsSet reports whether a required transition field already holds a
// usable value on the position. Zero shares/prices and empty strings/dates
// do not satisfy a requirement.
func fieldIsSet(p *domain.Position, name string) bool {
	acc, ok := accessors[name]
	if !ok {
		return false
	}
	switch v := acc.get(p); v {
	case "", "0":
		return false
	default:
		return true
	}
}

// LogEntry records a buy tranche and advances the state machine: tranche 1
// enters from the watchlist, tranches 2 and 3 pyramid up.
func (r *Repository) LogEntry(id int64, tranche int, shares, price float64, date time.Time) (*domain.Position, error) {
	if shares <= 0 || price <= 0 {
		return nil, fmt.Errorf("entry tranche %d needs positive shares and price", tranche)
	}

	current, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
	}

	fields := map[string]interface{}{}
	var target domain.PositionState

	switch tranche {
	case 1:
		fields["e1_shares"] = shares
		fields["e1_price"] = price
		fields["e1_date"] = date
		// Initial entries without a pinned stop get the default below cost.
		if !current.StopIsManual && current.StopPrice == 0 {
			fields["stop_price"] = price * defaultStopMult
		}
		target = domain.StateEntered
	case 2:
		fields["e2_shares"] = shares
		fields["e2_price"] = price
		fields["e2_date"] = date
		target = domain.StatePyramid1
	case 3:
		fields["e3_shares"] = shares
		fields["e3_price"] = price
		fields["e3_date"] = date
		target = domain.StateFullPosition
	default:
		return nil, fmt.Errorf("invalid entry tranche %d", tranche)
	}

	return r.TransitionState(id, target, fields)
}

// LogSale records a profit-taking sale at level 1 or 2 and advances the
// state accordingly.
func (r *Repository) LogSale(id int64, level int, sold, price float64, date time.Time) (*domain.Position, error) {
	if sold <= 0 || price <= 0 {
		return nil, fmt.Errorf("sale level %d needs positive shares and price", level)
	}

	fields := map[string]interface{}{}
	var target domain.PositionState

	switch level {
	case 1:
		fields["tp1_sold"] = sold
		fields["tp1_price"] = price
		fields["tp1_date"] = date
		target = domain.StateTookProfit1
	case 2:
		fields["tp2_sold"] = sold
		fields["tp2_price"] = price
		fields["tp2_date"] = date
		target = domain.StateTookProfit2
	default:
		return nil, fmt.Errorf("invalid sale level %d", level)
	}

	return r.TransitionState(id, target, fields)
}

// Close records a manual close: exit fields plus the CLOSED state.
func (r *Repository) Close(id int64, exitPrice float64, reason string, date time.Time) (*domain.Position, error) {
	return r.TransitionState(id, domain.StateClosed, map[string]interface{}{
		"exit_date":   date,
		"exit_price":  exitPrice,
		"exit_reason": reason,
	})
}

// TransitionToWatchingExited runs the exit flow into the re-entry watch in
// one transaction: the exit record is written, tranches and derived levels
// are zeroed, original_pivot is preserved, and the position lands at -1.5
// with watching_exited_since stamped. Legal from any holding state (the
// stop-out happens as part of this flow) or from an already-terminal state.
func (r *Repository) TransitionToWatchingExited(id int64, exitPrice float64, reason string) (*domain.Position, error) {
	current, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
	}
	if !current.IsOpen() && !current.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition,
			current.State, domain.StateWatchingExited)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"state":       domain.StateWatchingExited,
		"exit_date":   now,
		"exit_price":  exitPrice,
		"exit_reason": reason,

		"e1_shares": 0.0, "e1_price": 0.0, "e1_date": nil,
		"e2_shares": 0.0, "e2_price": 0.0, "e2_date": nil,
		"e3_shares": 0.0, "e3_price": 0.0, "e3_date": nil,
		"tp1_sold": 0.0, "tp1_price": 0.0, "tp1_date": nil,
		"tp2_sold": 0.0, "tp2_price": 0.0, "tp2_date": nil,

		// Stop/targets belong to the closed trade; reset them and drop
		// the manual pins so a re-entry recomputes fresh levels. Passing
		// the pins explicitly keeps Update from re-pinning the zeroed
		// levels, and the resets land in position_history like every
		// other tracked change of this transition.
		"stop_price": 0.0, "tp1_target": 0.0, "tp2_target": 0.0,
		"stop_is_manual": false, "tp1_is_manual": false, "tp2_is_manual": false,
		"running_high": 0.0, "ma_test_count": 0,

		"watching_exited_since": now,
	}
	if current.OriginalPivot == 0 && current.Pivot > 0 {
		fields["original_pivot"] = current.Pivot
	}

	updated, err := r.Update(id, fields, domain.SourceStateTransition)
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int64("id", id).
		Str("symbol", updated.Symbol).
		Str("from", current.State.String()).
		Str("reason", reason).
		Msg("Position moved to re-entry watch")

	r.emitStateChange(updated, current.State, domain.StateWatchingExited)
	return updated, nil
}

// ReturnToWatchlist resolves a re-entry watch back to the watchlist with a
// fresh pivot and clears watching_exited_since.
func (r *Repository) ReturnToWatchlist(id int64, newPivot float64) (*domain.Position, error) {
	if newPivot <= 0 {
		return nil, fmt.Errorf("%w: %q for transition %s -> %s",
			domain.ErrMissingField, "pivot", domain.StateWatchingExited, domain.StateWatching)
	}
	return r.TransitionState(id, domain.StateWatching, map[string]interface{}{
		"pivot":                 newPivot,
		"watching_exited_since": nil,
		"exit_date":             nil,
		"exit_price":            0.0,
		"exit_reason":           "",
	})
}

// ReenterFromWatchingExited resolves a re-entry watch directly into a fresh
// first tranche.
func (r *Repository) ReenterFromWatchingExited(id int64, shares, price, stopPrice float64, date time.Time) (*domain.Position, error) {
	if shares <= 0 || price <= 0 {
		return nil, fmt.Errorf("re-entry needs positive shares and price")
	}
	if stopPrice <= 0 {
		stopPrice = price * defaultStopMult
	}
	return r.TransitionState(id, domain.StateEntered, map[string]interface{}{
		"e1_shares":             shares,
		"e1_price":              price,
		"e1_date":               date,
		"stop_price":            stopPrice,
		"watching_exited_since": nil,
		"exit_date":             nil,
		"exit_price":            0.0,
		"exit_reason":           "",
	})
}

// ExpireWatchingExited archives re-entry watches older than maxDays and
// returns how many were expired.
func (r *Repository) ExpireWatchingExited(maxDays int) (int, error) {
	if maxDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -maxDays)

	stale, err := r.queryPositions(`SELECT `+positionColumns+` FROM positions
		WHERE state = -1.5 AND watching_exited_since IS NOT NULL AND watching_exited_since < ?`,
		cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		if _, err := r.TransitionState(stale[i].ID, domain.StateArchived, nil); err != nil {
			r.log.Error().Err(err).Int64("id", stale[i].ID).Str("symbol", stale[i].Symbol).
				Msg("Failed to expire re-entry watch")
			continue
		}
		expired++
	}

	if expired > 0 {
		r.log.Info().Int("count", expired).Int("max_days", maxDays).Msg("Expired re-entry watches")
	}
	return expired, nil
}
