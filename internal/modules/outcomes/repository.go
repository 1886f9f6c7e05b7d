// Package outcomes persists the final record of every closed trade and
// exposes the learned factor weights the offline learning subsystem derives
// from them. The scorer consumes those weights; nothing here writes them.
package outcomes

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
)

// Repository handles outcome and learned-weight database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new outcomes repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "outcomes").Logger(),
	}
}

const outcomeColumns = `id, position_id, symbol, pattern, base_stage, base_depth, base_length,
	rs_rating, entry_grade, entry_score, gross_pct, holding_days, outcome,
	entry_date, exit_date, exit_reason, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(row rowScanner) (*domain.Outcome, error) {
	var o domain.Outcome
	var entryDate, exitDate sql.NullString
	var createdAt string

	err := row.Scan(
		&o.ID, &o.PositionID, &o.Symbol, &o.Pattern, &o.BaseStage, &o.BaseDepth, &o.BaseLength,
		&o.RSRating, &o.EntryGrade, &o.EntryScore, &o.GrossPct, &o.HoldingDays, &o.Outcome,
		&entryDate, &exitDate, &o.ExitReason, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	o.EntryDate = parseTimePtr(entryDate)
	o.ExitDate = parseTimePtr(exitDate)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		o.CreatedAt = t
	}
	return &o, nil
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// Record inserts the outcome row for a closed position. The first write per
// position wins; repeats report inserted=false without error, so replayed
// close events stay harmless.
func (r *Repository) Record(o *domain.Outcome) (bool, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.Exec(`
		INSERT INTO outcomes (position_id, symbol, pattern, base_stage, base_depth, base_length,
			rs_rating, entry_grade, entry_score, gross_pct, holding_days, outcome,
			entry_date, exit_date, exit_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO NOTHING`,
		o.PositionID, o.Symbol, o.Pattern, o.BaseStage, o.BaseDepth, o.BaseLength,
		o.RSRating, o.EntryGrade, o.EntryScore, o.GrossPct, o.HoldingDays, o.Outcome,
		formatTimePtr(o.EntryDate), formatTimePtr(o.ExitDate), o.ExitReason,
		o.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record outcome for %s: %w", o.Symbol, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read outcome insert result: %w", err)
	}
	return n > 0, nil
}

// GetByPositionID returns the outcome for a position, or nil when none was
// recorded.
func (r *Repository) GetByPositionID(positionID int64) (*domain.Outcome, error) {
	row := r.db.QueryRow(`SELECT `+outcomeColumns+` FROM outcomes WHERE position_id = ?`, positionID)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome for position %d: %w", positionID, err)
	}
	return o, nil
}

// Recent returns the most recently recorded outcomes, newest first.
func (r *Repository) Recent(limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`SELECT `+outcomeColumns+` FROM outcomes
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, rows.Err()
}

// CountByClass tallies recorded outcomes per classification.
func (r *Repository) CountByClass() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT outcome, COUNT(*) FROM outcomes GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[class] = n
	}
	return counts, rows.Err()
}

// ActiveWeights returns the newest learned-weight set as factor->multiplier,
// along with its version tag. An empty version means no weights have been
// published yet and the scorer should run with neutral multipliers.
func (r *Repository) ActiveWeights() (string, map[string]float64, error) {
	rows, err := r.db.Query(`
		SELECT version, factor, weight FROM learned_weights
		WHERE version = (
			SELECT version FROM learned_weights
			ORDER BY updated_at DESC, version DESC LIMIT 1
		)`)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query learned weights: %w", err)
	}
	defer rows.Close()

	version := ""
	weights := make(map[string]float64)
	for rows.Next() {
		var factor string
		var weight float64
		if err := rows.Scan(&version, &factor, &weight); err != nil {
			return "", nil, fmt.Errorf("failed to scan learned weight: %w", err)
		}
		weights[factor] = weight
	}
	return version, weights, rows.Err()
}
