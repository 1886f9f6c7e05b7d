package workers

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SymbolSubscriber replaces the quote stream's symbol set.
type SymbolSubscriber interface {
	SetSymbols(symbols []string) error
}

// SubscriptionSet merges the symbol needs of the loops into one gateway
// subscription. Each loop contributes its slice at cycle start under its
// own key; the union goes downstream only when it changes, so a steady
// book costs nothing per cycle.
type SubscriptionSet struct {
	sub SymbolSubscriber
	log zerolog.Logger

	mu    sync.Mutex
	parts map[string][]string
	last  string
}

// NewSubscriptionSet creates the set. sub may be nil; contributions are
// then tracked but never pushed.
func NewSubscriptionSet(sub SymbolSubscriber, log zerolog.Logger) *SubscriptionSet {
	return &SubscriptionSet{
		sub:   sub,
		log:   log.With().Str("component", "subscriptions").Logger(),
		parts: make(map[string][]string),
	}
}

// Contribute replaces one loop's slice. A push failure keeps the previous
// union marker so the next contribution retries.
func (s *SubscriptionSet) Contribute(part string, symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parts[part] = append([]string(nil), symbols...)
	union := s.unionLocked()
	key := strings.Join(union, ",")
	if key == s.last {
		return
	}
	if s.sub != nil {
		if err := s.sub.SetSymbols(union); err != nil {
			s.log.Warn().Err(err).Int("symbols", len(union)).Msg("Subscription update failed")
			return
		}
	}
	s.last = key
	s.log.Debug().Int("symbols", len(union)).Msg("Quote subscription updated")
}

func (s *SubscriptionSet) unionLocked() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(s.parts)*4)
	for _, part := range s.parts {
		for _, sym := range part {
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
