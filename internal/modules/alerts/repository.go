// Package alerts persists emitted alerts and derives severities from the
// type catalog. The repository answers cooldown queries from MAX(alert_time)
// so restarts cannot double-fire a suppressed rule; the in-memory maps the
// checkers keep are advisory only.
package alerts

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles alert database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new alert repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

const alertColumns = `id, position_id, symbol, alert_type, alert_subtype, severity, message,
	price, pivot_at_alert, avg_cost_at_alert, pnl_pct_at_alert, volume_ratio, ma21, ma50,
	grade, score, market_regime, state_at_alert, context_snapshot,
	alert_time, acknowledged, sent_at, sent_channel`

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var positionID sql.NullInt64
	var pivot, avgCost, pnl, volRatio, ma21, ma50 sql.NullFloat64
	var alertTime string
	var acknowledged int
	var sentAt, sentChannel sql.NullString

	err := row.Scan(
		&a.ID, &positionID, &a.Symbol, &a.Type, &a.Subtype, &a.Severity, &a.Message,
		&a.Price, &pivot, &avgCost, &pnl, &volRatio, &ma21, &ma50,
		&a.Grade, &a.Score, &a.MarketRegime, &a.StateAtAlert, &a.ContextSnapshot,
		&alertTime, &acknowledged, &sentAt, &sentChannel,
	)
	if err != nil {
		return nil, err
	}

	if positionID.Valid {
		a.PositionID = &positionID.Int64
	}
	a.PivotAtAlert = nullFloat(pivot)
	a.AvgCostAtAlert = nullFloat(avgCost)
	a.PnLPctAtAlert = nullFloat(pnl)
	a.VolumeRatio = nullFloat(volRatio)
	a.MA21 = nullFloat(ma21)
	a.MA50 = nullFloat(ma50)
	a.Acknowledged = acknowledged != 0

	if t, err := time.Parse(time.RFC3339, alertTime); err == nil {
		a.AlertTime = t
	}
	if sentAt.Valid && sentAt.String != "" {
		if t, err := time.Parse(time.RFC3339, sentAt.String); err == nil {
			a.SentAt = &t
		}
	}
	if sentChannel.Valid {
		a.SentChannel = sentChannel.String
	}

	return &a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// alert_time is stored as UTC RFC3339Nano so MAX() compares
// chronologically and back-to-back emissions keep their order.
const alertTimeLayout = time.RFC3339Nano

// Create inserts an alert row. The caller supplies the id and severity;
// AlertTime defaults to now when zero.
func (r *Repository) Create(a *Alert) error {
	if a.AlertTime.IsZero() {
		a.AlertTime = time.Now()
	}

	var positionID interface{}
	if a.PositionID != nil {
		positionID = *a.PositionID
	}
	var sentAt interface{}
	if a.SentAt != nil {
		sentAt = a.SentAt.UTC().Format(alertTimeLayout)
	}

	_, err := r.db.Exec(`
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, positionID, a.Symbol, a.Type, a.Subtype, a.Severity, a.Message,
		a.Price, ptrValue(a.PivotAtAlert), ptrValue(a.AvgCostAtAlert), ptrValue(a.PnLPctAtAlert),
		ptrValue(a.VolumeRatio), ptrValue(a.MA21), ptrValue(a.MA50),
		a.Grade, a.Score, a.MarketRegime, a.StateAtAlert, a.ContextSnapshot,
		a.AlertTime.UTC().Format(alertTimeLayout), boolToInt(a.Acknowledged), sentAt, nullEmpty(a.SentChannel),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func ptrValue(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsInCooldown reports whether an alert with the same (symbol, type,
// subtype) fired within the window, measured against MAX(alert_time).
func (r *Repository) IsInCooldown(symbol, alertType, subtype string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}

	var last sql.NullString
	err := r.db.QueryRow(`
		SELECT MAX(alert_time) FROM alerts
		WHERE symbol = ? AND alert_type = ? AND alert_subtype = ?`,
		symbol, alertType, subtype,
	).Scan(&last)
	if err != nil {
		return false, fmt.Errorf("failed to query cooldown: %w", err)
	}
	if !last.Valid || last.String == "" {
		return false, nil
	}

	t, err := time.Parse(time.RFC3339, last.String)
	if err != nil {
		return false, fmt.Errorf("failed to parse last alert time %q: %w", last.String, err)
	}
	return time.Since(t) < window, nil
}

// MarkSent records a successful delivery receipt. Severity of failure here
// is low: the alert row already exists.
func (r *Repository) MarkSent(id, channel string) error {
	_, err := r.db.Exec(`UPDATE alerts SET sent_at = ?, sent_channel = ? WHERE id = ?`,
		time.Now().UTC().Format(alertTimeLayout), channel, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert %s sent: %w", id, err)
	}
	return nil
}

// Acknowledge flips the acknowledged flag. Idempotent.
func (r *Repository) Acknowledge(id string) error {
	_, err := r.db.Exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	return nil
}

// GetByID returns one alert, or nil when it does not exist.
func (r *Repository) GetByID(id string) (*Alert, error) {
	row := r.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

// GetLatestForPosition returns the most recent alert for a position, or nil.
func (r *Repository) GetLatestForPosition(positionID int64) (*Alert, error) {
	row := r.db.QueryRow(`SELECT `+alertColumns+` FROM alerts
		WHERE position_id = ? ORDER BY alert_time DESC LIMIT 1`, positionID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest alert for position %d: %w", positionID, err)
	}
	return a, nil
}

// GetLatestForSymbols returns each symbol's most recent alert. Symbols with
// no alerts are absent from the map.
func (r *Repository) GetLatestForSymbols(symbols []string) (map[string]Alert, error) {
	result := make(map[string]Alert, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}

	rows, err := r.db.Query(`SELECT `+alertColumns+` FROM alerts
		WHERE symbol IN (`+placeholders+`) ORDER BY alert_time ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest alerts: %w", err)
	}
	defer rows.Close()

	// Ascending scan; later rows overwrite earlier ones per symbol.
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		result[a.Symbol] = *a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return result, nil
}

// GetRecent returns the newest alerts across all symbols.
func (r *Repository) GetRecent(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT `+alertColumns+` FROM alerts
		ORDER BY alert_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer rows.Close()

	var result []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return result, nil
}

// GetUnsent returns alerts with no delivery receipt, oldest first, for the
// redelivery sweep.
func (r *Repository) GetUnsent(limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT `+alertColumns+` FROM alerts
		WHERE sent_at IS NULL ORDER BY alert_time ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent alerts: %w", err)
	}
	defer rows.Close()

	var result []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return result, nil
}

// PruneOlderThan deletes acknowledged alerts older than keepDays. Returns
// rows removed.
func (r *Repository) PruneOlderThan(keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays).UTC().Format(alertTimeLayout)
	res, err := r.db.Exec(`DELETE FROM alerts WHERE acknowledged = 1 AND alert_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("rows", n).Int("keep_days", keepDays).Msg("Pruned acknowledged alerts")
	}
	return n, nil
}
