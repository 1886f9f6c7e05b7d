// Package regime detects distribution days, tracks follow-through-day
// phases, and computes the daily market regime record that gates entries
// across the rest of the system.
package regime

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles regime database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new regime repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "regime").Logger(),
	}
}

const regimeColumns = `date, composite_score, entry_risk_score, regime,
	spy_d_count, qqq_d_count, spy_5day_delta, qqq_5day_delta, d_day_trend,
	market_phase, rally_day, has_confirmed_ftd,
	es_change_pct, nq_change_pct, ym_change_pct,
	fear_greed_score, fear_greed_rating, vix_close,
	config_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRegime(row rowScanner) (*MarketRegimeAlert, error) {
	var m MarketRegimeAlert
	var hasFTD int
	var es, nq, ym, fg, vix sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&m.Date, &m.CompositeScore, &m.EntryRiskScore, &m.Regime,
		&m.SPYDCount, &m.QQQDCount, &m.SPY5DayDelta, &m.QQQ5DayDelta, &m.DDayTrend,
		&m.MarketPhase, &m.RallyDay, &hasFTD,
		&es, &nq, &ym,
		&fg, &m.FearGreedRating, &vix,
		&m.ConfigVersion, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.HasConfirmedFTD = hasFTD != 0
	m.ESChangePct = nullFloat(es)
	m.NQChangePct = nullFloat(nq)
	m.YMChangePct = nullFloat(ym)
	m.FearGreedScore = nullFloat(fg)
	m.VIXClose = nullFloat(vix)

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &m, nil
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func ptrValue(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Upsert writes the regime record for its date, overwriting any earlier
// run for the same day.
func (r *Repository) Upsert(m *MarketRegimeAlert) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.Exec(`
		INSERT INTO market_regime_alerts (`+regimeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			composite_score = excluded.composite_score,
			entry_risk_score = excluded.entry_risk_score,
			regime = excluded.regime,
			spy_d_count = excluded.spy_d_count,
			qqq_d_count = excluded.qqq_d_count,
			spy_5day_delta = excluded.spy_5day_delta,
			qqq_5day_delta = excluded.qqq_5day_delta,
			d_day_trend = excluded.d_day_trend,
			market_phase = excluded.market_phase,
			rally_day = excluded.rally_day,
			has_confirmed_ftd = excluded.has_confirmed_ftd,
			es_change_pct = excluded.es_change_pct,
			nq_change_pct = excluded.nq_change_pct,
			ym_change_pct = excluded.ym_change_pct,
			fear_greed_score = excluded.fear_greed_score,
			fear_greed_rating = excluded.fear_greed_rating,
			vix_close = excluded.vix_close,
			config_version = excluded.config_version,
			updated_at = excluded.updated_at`,
		m.Date, m.CompositeScore, m.EntryRiskScore, m.Regime,
		m.SPYDCount, m.QQQDCount, m.SPY5DayDelta, m.QQQ5DayDelta, m.DDayTrend,
		m.MarketPhase, m.RallyDay, boolToInt(m.HasConfirmedFTD),
		ptrValue(m.ESChangePct), ptrValue(m.NQChangePct), ptrValue(m.YMChangePct),
		ptrValue(m.FearGreedScore), m.FearGreedRating, ptrValue(m.VIXClose),
		m.ConfigVersion, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert regime for %s: %w", m.Date, err)
	}
	return nil
}

// GetCurrent returns the newest regime record, or nil when none exist yet.
func (r *Repository) GetCurrent() (*MarketRegimeAlert, error) {
	row := r.db.QueryRow(`SELECT ` + regimeColumns + ` FROM market_regime_alerts
		ORDER BY date DESC LIMIT 1`)
	m, err := scanRegime(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current regime: %w", err)
	}
	return m, nil
}

// GetRange returns regime records between two dates inclusive, ascending.
func (r *Repository) GetRange(from, to string) ([]MarketRegimeAlert, error) {
	rows, err := r.db.Query(`SELECT `+regimeColumns+` FROM market_regime_alerts
		WHERE date >= ? AND date <= ? ORDER BY date ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query regime range: %w", err)
	}
	defer rows.Close()

	var result []MarketRegimeAlert
	for rows.Next() {
		m, err := scanRegime(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan regime row: %w", err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating regime rows: %w", err)
	}
	return result, nil
}

// HasDate reports whether a regime record exists for the date. The
// historical seeder uses this for skip-existing resumption.
func (r *Repository) HasDate(date string) (bool, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM market_regime_alerts WHERE date = ?`, date).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check regime date: %w", err)
	}
	return count > 0, nil
}

// RecordDistributionDay inserts one qualifying day. Re-running detection
// over the same bars is a no-op thanks to the (symbol, date) key.
func (r *Repository) RecordDistributionDay(d *DistributionDay) (bool, error) {
	res, err := r.db.Exec(`
		INSERT OR IGNORE INTO distribution_days
			(symbol, date, pct_change, volume_ratio, close, stalling, expired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		d.Symbol, d.Date, d.PctChange, d.VolumeRatio, d.Close, boolToInt(d.Stalling),
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record distribution day %s/%s: %w", d.Symbol, d.Date, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetActiveDistributionDays returns non-expired D-Days for a symbol,
// ascending by date.
func (r *Repository) GetActiveDistributionDays(symbol string) ([]DistributionDay, error) {
	rows, err := r.db.Query(`
		SELECT symbol, date, pct_change, volume_ratio, close, stalling, expired, created_at
		FROM distribution_days
		WHERE symbol = ? AND expired = 0 ORDER BY date ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution days: %w", err)
	}
	defer rows.Close()

	var result []DistributionDay
	for rows.Next() {
		var d DistributionDay
		var stalling, expired int
		var createdAt string
		if err := rows.Scan(&d.Symbol, &d.Date, &d.PctChange, &d.VolumeRatio, &d.Close, &stalling, &expired, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan distribution day: %w", err)
		}
		d.Stalling = stalling != 0
		d.Expired = expired != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			d.CreatedAt = t
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution days: %w", err)
	}
	return result, nil
}

// ExpireDistributionDay flags one row expired.
func (r *Repository) ExpireDistributionDay(symbol, date string) error {
	_, err := r.db.Exec(`UPDATE distribution_days SET expired = 1 WHERE symbol = ? AND date = ?`, symbol, date)
	if err != nil {
		return fmt.Errorf("failed to expire distribution day %s/%s: %w", symbol, date, err)
	}
	return nil
}

// GetFTDState loads the persisted tracker state for a symbol, or nil when
// the symbol has never been tracked.
func (r *Repository) GetFTDState(symbol string) (*FTDState, error) {
	row := r.db.QueryRow(`
		SELECT symbol, phase, rally_start_date, day1_low, last_ftd_date, ddays_since_ftd, updated_at
		FROM ftd_state WHERE symbol = ?`, symbol)

	var s FTDState
	var rallyStart, lastFTD sql.NullString
	var updatedAt string
	err := row.Scan(&s.Symbol, &s.Phase, &rallyStart, &s.Day1Low, &lastFTD, &s.DDaysSinceFTD, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get FTD state for %s: %w", symbol, err)
	}

	if rallyStart.Valid && rallyStart.String != "" {
		if t, err := time.Parse("2006-01-02", rallyStart.String); err == nil {
			s.RallyStartDate = &t
		}
	}
	if lastFTD.Valid && lastFTD.String != "" {
		if t, err := time.Parse("2006-01-02", lastFTD.String); err == nil {
			s.LastFTDDate = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		s.UpdatedAt = t
	}
	return &s, nil
}

// SaveFTDState upserts the tracker state for a symbol.
func (r *Repository) SaveFTDState(s *FTDState) error {
	var rallyStart, lastFTD interface{}
	if s.RallyStartDate != nil {
		rallyStart = s.RallyStartDate.Format("2006-01-02")
	}
	if s.LastFTDDate != nil {
		lastFTD = s.LastFTDDate.Format("2006-01-02")
	}

	_, err := r.db.Exec(`
		INSERT INTO ftd_state (symbol, phase, rally_start_date, day1_low, last_ftd_date, ddays_since_ftd, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET
			phase = excluded.phase,
			rally_start_date = excluded.rally_start_date,
			day1_low = excluded.day1_low,
			last_ftd_date = excluded.last_ftd_date,
			ddays_since_ftd = excluded.ddays_since_ftd,
			updated_at = excluded.updated_at`,
		s.Symbol, s.Phase, rallyStart, s.Day1Low, lastFTD, s.DDaysSinceFTD,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save FTD state for %s: %w", s.Symbol, err)
	}
	return nil
}
