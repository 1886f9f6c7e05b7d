package workers

import (
	"sync"

	"github.com/aristath/slimwatch/internal/modules/regime"
)

// RegimeCell is the shared regime snapshot: written by the market worker,
// read at the top of every other worker's cycle. Readers always see the
// latest committed record, never a half-written one.
type RegimeCell struct {
	mu  sync.RWMutex
	rec *regime.MarketRegimeAlert
	spy float64
}

func NewRegimeCell() *RegimeCell {
	return &RegimeCell{}
}

// Update replaces the snapshot. The record must not be mutated after it
// is handed over.
func (c *RegimeCell) Update(rec *regime.MarketRegimeAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
}

// Snapshot returns the current record, nil before the first evaluation.
func (c *RegimeCell) Snapshot() *regime.MarketRegimeAlert {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rec
}

// Regime returns the current bucket name, empty before the first
// evaluation. Checkers treat empty as "do not suppress".
func (c *RegimeCell) Regime() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rec == nil {
		return ""
	}
	return c.rec.Regime
}

// SetSPYPrice stores the latest S&P proxy price for context snapshots.
func (c *RegimeCell) SetSPYPrice(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spy = p
}

// SPYPrice returns the last stored S&P proxy price, 0 when unknown.
func (c *RegimeCell) SPYPrice() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spy
}
