package domain

import "fmt"

// PositionState is the position lifecycle state. Values are numeric so the
// re-entry watch sentinel (-1.5) sorts between archived and closed.
type PositionState float64

const (
	// StateArchived - terminal; stopped out or expired from re-entry watch
	StateArchived PositionState = -2
	// StateWatchingExited - re-entry watch after an exit; may return to the
	// watchlist or re-enter directly
	StateWatchingExited PositionState = -1.5
	// StateClosed - terminal; manually closed or removed from the watchlist
	StateClosed PositionState = -1
	// StateWatching - on the watchlist, no shares held
	StateWatching PositionState = 0
	// StateEntered - initial buy filled (first tranche)
	StateEntered PositionState = 1
	// StatePyramid1 - first pyramid add filled (second tranche)
	StatePyramid1 PositionState = 2
	// StateFullPosition - full position (third tranche)
	StateFullPosition PositionState = 3
	// StateTookProfit1 - first profit target sold
	StateTookProfit1 PositionState = 4
	// StateTookProfit2 - second profit target sold
	StateTookProfit2 PositionState = 5
	// StateTrailing - remainder rides a trailing stop
	StateTrailing PositionState = 6
)

// String returns the state's display name.
func (s PositionState) String() string {
	switch s {
	case StateArchived:
		return "ARCHIVED"
	case StateWatchingExited:
		return "WATCHING_EXITED"
	case StateClosed:
		return "CLOSED"
	case StateWatching:
		return "WATCHING"
	case StateEntered:
		return "ENTERED"
	case StatePyramid1:
		return "PYRAMID_1"
	case StateFullPosition:
		return "FULL_POSITION"
	case StateTookProfit1:
		return "TOOK_PROFIT_1"
	case StateTookProfit2:
		return "TOOK_PROFIT_2"
	case StateTrailing:
		return "TRAILING"
	default:
		return fmt.Sprintf("UNKNOWN(%g)", float64(s))
	}
}

// IsTerminal reports whether the state ends the lifecycle.
func (s PositionState) IsTerminal() bool {
	return s == StateArchived || s == StateClosed
}

// transition is one legal edge of the state machine with the fields that
// must accompany it.
type transition struct {
	from     PositionState
	to       PositionState
	required []string
}

// transitionTable enumerates every legal transition. Anything absent fails
// with ErrInvalidTransition.
var transitionTable = []transition{
	{StateWatching, StateEntered, []string{"e1_shares", "e1_price", "stop_price"}},
	{StateEntered, StatePyramid1, []string{"e2_shares", "e2_price"}},
	{StatePyramid1, StateFullPosition, []string{"e3_shares", "e3_price"}},
	{StateEntered, StateFullPosition, []string{"e2_shares", "e2_price", "e3_shares", "e3_price"}},

	{StateEntered, StateTookProfit1, []string{"tp1_sold", "tp1_price"}},
	{StatePyramid1, StateTookProfit1, []string{"tp1_sold", "tp1_price"}},

	{StatePyramid1, StateTookProfit2, []string{"tp2_sold", "tp2_price"}},
	{StateFullPosition, StateTookProfit2, []string{"tp2_sold", "tp2_price"}},
	{StateTookProfit1, StateTookProfit2, []string{"tp2_sold", "tp2_price"}},

	{StatePyramid1, StateTrailing, nil},
	{StateFullPosition, StateTrailing, nil},
	{StateTookProfit1, StateTrailing, nil},

	// Manual close from any holding state
	{StateEntered, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},
	{StatePyramid1, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},
	{StateFullPosition, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},
	{StateTookProfit1, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},
	{StateTookProfit2, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},
	{StateTrailing, StateClosed, []string{"exit_date", "exit_price", "exit_reason"}},

	// Stop-out from any holding state
	{StateEntered, StateArchived, []string{"exit_date", "exit_price"}},
	{StatePyramid1, StateArchived, []string{"exit_date", "exit_price"}},
	{StateFullPosition, StateArchived, []string{"exit_date", "exit_price"}},
	{StateTookProfit1, StateArchived, []string{"exit_date", "exit_price"}},
	{StateTookProfit2, StateArchived, []string{"exit_date", "exit_price"}},
	{StateTrailing, StateArchived, []string{"exit_date", "exit_price"}},

	// Remove from watchlist
	{StateWatching, StateClosed, nil},

	// Exit flow into the re-entry watch
	{StateArchived, StateWatchingExited, []string{"exit_price", "exit_reason"}},
	{StateClosed, StateWatchingExited, []string{"exit_price", "exit_reason"}},

	// Re-entry watch resolutions
	{StateWatchingExited, StateWatching, []string{"pivot"}},
	{StateWatchingExited, StateEntered, []string{"e1_shares", "e1_price", "stop_price"}},
	{StateWatchingExited, StateArchived, nil},
}

// RequiredTransitionFields returns the field names a transition needs, or
// ErrInvalidTransition when the edge is not in the table.
func RequiredTransitionFields(from, to PositionState) ([]string, error) {
	for _, t := range transitionTable {
		if t.from == from && t.to == to {
			return t.required, nil
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to PositionState) bool {
	_, err := RequiredTransitionFields(from, to)
	return err == nil
}
