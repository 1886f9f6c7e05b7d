// Package positions provides transactional persistence for tracked
// positions. Every mutation of a tracked field flows through Update, which
// diffs old against new and writes position_history rows in the same
// transaction. State transitions are validated against the state machine
// before any write happens.
package positions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

// Repository handles position database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	bus *events.Bus
}

// NewRepository creates a new position repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "positions").Logger(),
	}
}

// SetEventBus wires the bus that receives state-change events. Optional;
// without a bus transitions simply do not publish.
func (r *Repository) SetEventBus(bus *events.Bus) {
	r.bus = bus
}

// positionColumns is the canonical column list; scanPosition reads rows in
// exactly this order.
const positionColumns = `id, symbol, portfolio, state,
	e1_shares, e1_price, e1_date, e2_shares, e2_price, e2_date, e3_shares, e3_price, e3_date,
	tp1_sold, tp1_price, tp1_date, tp2_sold, tp2_price, tp2_date,
	total_shares, avg_cost, current_pnl_pct, stop_price, tp1_target, tp2_target,
	stop_is_manual, tp1_is_manual, tp2_is_manual, running_high,
	pattern, base_stage, base_depth, base_length, pivot, pivot_set_date, original_pivot,
	rs_rating, eps_rating, comp_rating, ad_rating, industry_rank, fund_count,
	entry_grade, entry_score,
	last_price, last_price_time, avg_volume_50d, earnings_date,
	needs_sheet_sync, watching_exited_since, ma_test_count,
	exit_date, exit_price, exit_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a Position. Column order must match
// positionColumns.
func scanPosition(row rowScanner) (*domain.Position, error) {
	var p domain.Position
	var state float64
	var e1Date, e2Date, e3Date, tp1Date, tp2Date sql.NullString
	var pivotSetDate, lastPriceTime, earningsDate sql.NullString
	var watchingExitedSince, exitDate sql.NullString
	var stopIsManual, tp1IsManual, tp2IsManual, needsSheetSync int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.Symbol,
		&p.Portfolio,
		&state,
		&p.E1Shares, &p.E1Price, &e1Date,
		&p.E2Shares, &p.E2Price, &e2Date,
		&p.E3Shares, &p.E3Price, &e3Date,
		&p.TP1Sold, &p.TP1Price, &tp1Date,
		&p.TP2Sold, &p.TP2Price, &tp2Date,
		&p.TotalShares, &p.AvgCost, &p.CurrentPnLPct,
		&p.StopPrice, &p.TP1Target, &p.TP2Target,
		&stopIsManual, &tp1IsManual, &tp2IsManual,
		&p.RunningHigh,
		&p.Pattern, &p.BaseStage, &p.BaseDepth, &p.BaseLength,
		&p.Pivot, &pivotSetDate, &p.OriginalPivot,
		&p.RSRating, &p.EPSRating, &p.CompRating, &p.ADRating,
		&p.IndustryRank, &p.FundCount,
		&p.EntryGrade, &p.EntryScore,
		&p.LastPrice, &lastPriceTime, &p.AvgVolume50D, &earningsDate,
		&needsSheetSync, &watchingExitedSince, &p.MATestCount,
		&exitDate, &p.ExitPrice, &p.ExitReason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.State = domain.PositionState(state)
	p.StopIsManual = stopIsManual != 0
	p.TP1IsManual = tp1IsManual != 0
	p.TP2IsManual = tp2IsManual != 0
	p.NeedsSheetSync = needsSheetSync != 0

	p.E1Date = parseTimePtr(e1Date)
	p.E2Date = parseTimePtr(e2Date)
	p.E3Date = parseTimePtr(e3Date)
	p.TP1Date = parseTimePtr(tp1Date)
	p.TP2Date = parseTimePtr(tp2Date)
	p.PivotSetDate = parseTimePtr(pivotSetDate)
	p.LastPriceTime = parseTimePtr(lastPriceTime)
	p.EarningsDate = parseTimePtr(earningsDate)
	p.WatchingExitedSince = parseTimePtr(watchingExitedSince)
	p.ExitDate = parseTimePtr(exitDate)

	if t, err := parseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		p.UpdatedAt = t
	}

	return &p, nil
}

// parseTime accepts RFC3339 timestamps and bare dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTime(ns.String)
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

// Create inserts a new position and fills in its ID and timestamps.
func (r *Repository) Create(p *domain.Position) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Portfolio == "" {
		p.Portfolio = "default"
	}

	result, err := r.db.Exec(`
		INSERT INTO positions
		(symbol, portfolio, state,
		 e1_shares, e1_price, e1_date, e2_shares, e2_price, e2_date, e3_shares, e3_price, e3_date,
		 tp1_sold, tp1_price, tp1_date, tp2_sold, tp2_price, tp2_date,
		 total_shares, avg_cost, current_pnl_pct, stop_price, tp1_target, tp2_target,
		 stop_is_manual, tp1_is_manual, tp2_is_manual, running_high,
		 pattern, base_stage, base_depth, base_length, pivot, pivot_set_date, original_pivot,
		 rs_rating, eps_rating, comp_rating, ad_rating, industry_rank, fund_count,
		 entry_grade, entry_score,
		 last_price, last_price_time, avg_volume_50d, earnings_date,
		 needs_sheet_sync, watching_exited_since, ma_test_count,
		 exit_date, exit_price, exit_reason,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.Symbol, p.Portfolio, float64(p.State),
		p.E1Shares, p.E1Price, formatTimePtr(p.E1Date),
		p.E2Shares, p.E2Price, formatTimePtr(p.E2Date),
		p.E3Shares, p.E3Price, formatTimePtr(p.E3Date),
		p.TP1Sold, p.TP1Price, formatTimePtr(p.TP1Date),
		p.TP2Sold, p.TP2Price, formatTimePtr(p.TP2Date),
		p.TotalShares, p.AvgCost, p.CurrentPnLPct, p.StopPrice, p.TP1Target, p.TP2Target,
		boolToInt(p.StopIsManual), boolToInt(p.TP1IsManual), boolToInt(p.TP2IsManual), p.RunningHigh,
		p.Pattern, p.BaseStage, p.BaseDepth, p.BaseLength,
		p.Pivot, formatTimePtr(p.PivotSetDate), p.OriginalPivot,
		p.RSRating, p.EPSRating, p.CompRating, p.ADRating, p.IndustryRank, p.FundCount,
		p.EntryGrade, p.EntryScore,
		p.LastPrice, formatTimePtr(p.LastPriceTime), p.AvgVolume50D, formatTimePtr(p.EarningsDate),
		boolToInt(p.NeedsSheetSync), formatTimePtr(p.WatchingExitedSince), p.MATestCount,
		formatTimePtr(p.ExitDate), p.ExitPrice, p.ExitReason,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted position id: %w", err)
	}
	p.ID = id

	r.log.Info().Int64("id", id).Str("symbol", p.Symbol).Float64("state", float64(p.State)).Msg("Position created")
	return nil
}

// CreateWatchlist creates a new watchlist entry in state 0. Setting a pivot
// here also stamps pivot_set_date.
func (r *Repository) CreateWatchlist(symbol string, pivot float64, pattern, portfolio string) (*domain.Position, error) {
	p := &domain.Position{
		Symbol:    symbol,
		Portfolio: portfolio,
		State:     domain.StateWatching,
		Pivot:     pivot,
		Pattern:   pattern,
	}
	if pivot > 0 {
		now := time.Now()
		p.PivotSetDate = &now
		p.OriginalPivot = pivot
	}
	if err := r.Create(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID returns a position by id, or nil when it does not exist.
func (r *Repository) GetByID(id int64) (*domain.Position, error) {
	row := r.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	return p, nil
}

// GetBySymbol returns the live position for a symbol: the most recent row
// that is not terminally closed, falling back to the most recent row of any
// state.
func (r *Repository) GetBySymbol(symbol string) (*domain.Position, error) {
	row := r.db.QueryRow(`SELECT `+positionColumns+` FROM positions
		WHERE symbol = ? AND state NOT IN (-2, -1)
		ORDER BY created_at DESC LIMIT 1`, symbol)
	p, err := scanPosition(row)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get position by symbol %s: %w", symbol, err)
	}

	row = r.db.QueryRow(`SELECT `+positionColumns+` FROM positions
		WHERE symbol = ? ORDER BY created_at DESC LIMIT 1`, symbol)
	p, err = scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position by symbol %s: %w", symbol, err)
	}
	return p, nil
}

// GetAll returns all positions ordered by symbol.
func (r *Repository) GetAll() ([]domain.Position, error) {
	return r.queryPositions(`SELECT ` + positionColumns + ` FROM positions ORDER BY symbol`)
}

// GetByState returns all positions in the given state.
func (r *Repository) GetByState(state domain.PositionState) ([]domain.Position, error) {
	return r.queryPositions(`SELECT `+positionColumns+` FROM positions WHERE state = ? ORDER BY symbol`, float64(state))
}

// GetWatchlist returns all positions in state 0.
func (r *Repository) GetWatchlist() ([]domain.Position, error) {
	return r.GetByState(domain.StateWatching)
}

// GetOpen returns all positions holding shares (state >= 1).
func (r *Repository) GetOpen() ([]domain.Position, error) {
	return r.queryPositions(`SELECT ` + positionColumns + ` FROM positions WHERE state >= 1 ORDER BY symbol`)
}

// GetMonitored returns the position worker's working set: open positions
// plus re-entry watches (-1.5).
func (r *Repository) GetMonitored() ([]domain.Position, error) {
	return r.queryPositions(`SELECT ` + positionColumns + ` FROM positions WHERE state >= 1 OR state = -1.5 ORDER BY symbol`)
}

func (r *Repository) queryPositions(query string, args ...interface{}) ([]domain.Position, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var result []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return result, nil
}

// Count returns the total number of positions.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM positions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count positions: %w", err)
	}
	return count, nil
}

// Delete removes a position and its history. Intended for administrative
// cleanup; normal lifecycle ends in ARCHIVED, not deletion.
func (r *Repository) Delete(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM position_history WHERE position_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete position history: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM positions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Info().Int64("id", id).Msg("Position deleted")
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
