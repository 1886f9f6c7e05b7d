package domain

import "errors"

// Sentinel errors matched with errors.Is at component boundaries.
var (
	// ErrInvalidTransition - the requested state change is not in the
	// transition table; the entity is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMissingField - a transition or update omitted a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidField - an update named a field outside the accessor table
	// or supplied a value the field cannot hold.
	ErrInvalidField = errors.New("invalid position field")

	// ErrPositionNotFound - lookup by id or symbol matched nothing.
	ErrPositionNotFound = errors.New("position not found")

	// ErrNoQuote - the realtime provider has no fresh quote for the symbol.
	// Workers treat this as a skip, not a failure.
	ErrNoQuote = errors.New("no quote available")

	// ErrProviderUnavailable - the provider is disconnected or refused the
	// call; retried next cycle.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrCooldownActive - an identical alert fired inside the suppression
	// window.
	ErrCooldownActive = errors.New("alert cooldown active")
)
