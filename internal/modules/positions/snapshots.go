package positions

import (
	"fmt"
	"time"

	"github.com/aristath/slimwatch/internal/domain"
)

// Snapshot is one end-of-day record of a position's monitored values.
// Written by the position worker once per trading day; keyed by
// (position_id, snapshot_date) so reruns overwrite instead of duplicating.
type Snapshot struct {
	ID          int64     `json:"id"`
	PositionID  int64     `json:"position_id"`
	Date        string    `json:"snapshot_date"`
	State       float64   `json:"state"`
	Price       float64   `json:"price"`
	PnLPct      float64   `json:"pnl_pct"`
	TotalShares float64   `json:"total_shares"`
	AvgCost     float64   `json:"avg_cost"`
	StopPrice   float64   `json:"stop_price"`
	RunningHigh float64   `json:"running_high"`
	CreatedAt   time.Time `json:"created_at"`
}

// WriteSnapshot upserts today's snapshot row for the position.
func (r *Repository) WriteSnapshot(p *domain.Position, date time.Time) error {
	day := date.Format("2006-01-02")
	_, err := r.db.Exec(`
		INSERT INTO position_snapshots
			(position_id, snapshot_date, state, price, pnl_pct, total_shares, avg_cost, stop_price, running_high, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (position_id, snapshot_date) DO UPDATE SET
			state = excluded.state,
			price = excluded.price,
			pnl_pct = excluded.pnl_pct,
			total_shares = excluded.total_shares,
			avg_cost = excluded.avg_cost,
			stop_price = excluded.stop_price,
			running_high = excluded.running_high`,
		p.ID, day, float64(p.State), p.LastPrice, p.CurrentPnLPct,
		p.TotalShares, p.AvgCost, p.StopPrice, p.RunningHigh,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot for position %d: %w", p.ID, err)
	}
	return nil
}

// GetSnapshots returns a position's daily snapshots, newest first. A limit
// of 0 means all rows.
func (r *Repository) GetSnapshots(positionID int64, limit int) ([]Snapshot, error) {
	query := `SELECT id, position_id, snapshot_date, state, price, pnl_pct, total_shares, avg_cost, stop_price, running_high, created_at
		FROM position_snapshots WHERE position_id = ? ORDER BY snapshot_date DESC`
	args := []interface{}{positionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var result []Snapshot
	for rows.Next() {
		var s Snapshot
		var createdAt string
		if err := rows.Scan(&s.ID, &s.PositionID, &s.Date, &s.State, &s.Price, &s.PnLPct,
			&s.TotalShares, &s.AvgCost, &s.StopPrice, &s.RunningHigh, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			s.CreatedAt = t
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return result, nil
}

// HasSnapshotFor reports whether a snapshot already exists for the day.
func (r *Repository) HasSnapshotFor(positionID int64, date time.Time) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM position_snapshots WHERE position_id = ? AND snapshot_date = ?`,
		positionID, date.Format("2006-01-02")).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshot existence: %w", err)
	}
	return count > 0, nil
}

// PruneSnapshots deletes snapshots older than keepDays. Returns rows removed.
func (r *Repository) PruneSnapshots(keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays).Format("2006-01-02")
	res, err := r.db.Exec(`DELETE FROM position_snapshots WHERE snapshot_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("rows", n).Int("keep_days", keepDays).Msg("Pruned old snapshots")
	}
	return n, nil
}
