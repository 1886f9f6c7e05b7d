package positions

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/slimwatch/internal/domain"
)

// GetHistory returns the change log for a position, newest first. A limit
// of 0 means all rows.
func (r *Repository) GetHistory(positionID int64, limit int) ([]domain.PositionHistory, error) {
	query := `SELECT id, position_id, field_name, old_value, new_value, change_source, changed_at
		FROM position_history WHERE position_id = ? ORDER BY changed_at DESC, id DESC`
	args := []interface{}{positionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryHistory(query, args...)
}

// GetHistoryForField returns the change log for one field of a position,
// newest first.
func (r *Repository) GetHistoryForField(positionID int64, field string, limit int) ([]domain.PositionHistory, error) {
	query := `SELECT id, position_id, field_name, old_value, new_value, change_source, changed_at
		FROM position_history WHERE position_id = ? AND field_name = ? ORDER BY changed_at DESC, id DESC`
	args := []interface{}{positionID, field}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryHistory(query, args...)
}

// GetHistorySince returns all changes for a position at or after the cutoff,
// newest first.
func (r *Repository) GetHistorySince(positionID int64, since time.Time) ([]domain.PositionHistory, error) {
	return r.queryHistory(`SELECT id, position_id, field_name, old_value, new_value, change_source, changed_at
		FROM position_history WHERE position_id = ? AND changed_at >= ? ORDER BY changed_at DESC, id DESC`,
		positionID, since.Format(time.RFC3339))
}

func (r *Repository) queryHistory(query string, args ...interface{}) ([]domain.PositionHistory, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	defer rows.Close()

	var result []domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var changedAt string
		if err := rows.Scan(&h.ID, &h.PositionID, &h.FieldName, &h.OldValue, &h.NewValue, &h.ChangeSource, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if t, err := parseTime(changedAt); err == nil {
			h.ChangedAt = t
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return result, nil
}

// HistoricalSnapshot is one materialized point-in-time view of a position,
// produced by walking the change log backward from the current row.
type HistoricalSnapshot struct {
	At       time.Time       `json:"at"`
	Source   string          `json:"source"`
	Fields   []string        `json:"fields,omitempty"`
	Position domain.Position `json:"position"`
}

// ReconstructSnapshots materializes the position at every distinct change
// timestamp, newest first. The head entry carries source "current" and the
// live row; each subsequent entry shows the position as it stood right
// after the changes at that timestamp, obtained by reverting fields to
// their logged old_value while walking backward.
func (r *Repository) ReconstructSnapshots(positionID int64) ([]HistoricalSnapshot, error) {
	current, err := r.GetByID(positionID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, positionID)
	}

	history, err := r.GetHistory(positionID, 0)
	if err != nil {
		return nil, err
	}

	cur := *current
	out := []HistoricalSnapshot{{
		At:       time.Now(),
		Source:   domain.SourceCurrent,
		Position: cur,
	}}

	i := 0
	for i < len(history) {
		at := history[i].ChangedAt

		// cur currently reflects the position just after the changes at
		// this timestamp; emit before reverting them.
		snap := HistoricalSnapshot{At: at, Source: history[i].ChangeSource, Position: cur}
		for j := i; j < len(history) && history[j].ChangedAt.Equal(at); j++ {
			snap.Fields = append(snap.Fields, history[j].FieldName)
		}
		out = append(out, snap)

		for ; i < len(history) && history[i].ChangedAt.Equal(at); i++ {
			if err := revertField(&cur, history[i].FieldName, history[i].OldValue); err != nil {
				r.log.Warn().Err(err).
					Int64("position_id", positionID).
					Str("field", history[i].FieldName).
					Msg("Skipping unparseable history value during reconstruction")
			}
		}
	}

	return out, nil
}

// revertField sets one named field from its stringified history value.
func revertField(p *domain.Position, name, raw string) error {
	acc, ok := accessors[name]
	if !ok {
		return fmt.Errorf("unknown history field %q", name)
	}
	v, err := parseFieldValue(name, raw)
	if err != nil {
		return err
	}
	return acc.set(p, v)
}

// parseFieldValue turns a stringified history value back into the type the
// field's setter expects. Stringification and parsing must stay in sync
// with the accessor table's getters.
func parseFieldValue(name, raw string) (interface{}, error) {
	switch name {
	case "symbol", "portfolio", "pattern", "base_stage", "ad_rating",
		"entry_grade", "exit_reason":
		return raw, nil
	case "rs_rating", "eps_rating", "comp_rating", "industry_rank",
		"fund_count", "ma_test_count":
		if raw == "" {
			return 0, nil
		}
		return strconv.Atoi(raw)
	case "needs_sheet_sync":
		if raw == "" {
			return false, nil
		}
		return strconv.ParseBool(raw)
	case "e1_date", "e2_date", "e3_date", "tp1_date", "tp2_date",
		"pivot_set_date", "last_price_time", "earnings_date",
		"watching_exited_since", "exit_date":
		// setTimePtr parses strings; empty means nil.
		return raw, nil
	default:
		if raw == "" {
			return 0.0, nil
		}
		return strconv.ParseFloat(raw, 64)
	}
}
