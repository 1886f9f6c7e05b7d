package positions

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

// Default levels derived from average cost when the caller has not pinned
// them manually. CAN-SLIM sell discipline: cut losses at 7%, take first
// profits in the 20-25% band.
const (
	defaultStopMult = 0.93
	defaultTP1Mult  = 1.20
	defaultTP2Mult  = 1.25
)

// fieldAccessor reads and writes one named position field. The accessor
// table is the single definition of which fields Update understands; the
// tracked flag decides whether a change emits a position_history row.
type fieldAccessor struct {
	get     func(p *domain.Position) string
	set     func(p *domain.Position, v interface{}) error
	tracked bool
}

// accessors maps canonical field names to their accessors. Market-facing
// cache fields (last_price, current_pnl_pct, running_high, avg_volume_50d)
// churn every cycle and are deliberately untracked; everything a human or a
// state transition touches is tracked.
var accessors = map[string]fieldAccessor{
	"symbol":    {get: func(p *domain.Position) string { return p.Symbol }, set: func(p *domain.Position, v interface{}) error { return setString(&p.Symbol, v) }, tracked: true},
	"portfolio": {get: func(p *domain.Position) string { return p.Portfolio }, set: func(p *domain.Position, v interface{}) error { return setString(&p.Portfolio, v) }, tracked: true},
	"state": {
		get: func(p *domain.Position) string { return formatFloat(float64(p.State)) },
		set: func(p *domain.Position, v interface{}) error {
			f, err := toFloat(v)
			if err != nil {
				return err
			}
			p.State = domain.PositionState(f)
			return nil
		},
		tracked: true,
	},

	"e1_shares": {get: func(p *domain.Position) string { return formatFloat(p.E1Shares) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E1Shares, v) }, tracked: true},
	"e1_price":  {get: func(p *domain.Position) string { return formatFloat(p.E1Price) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E1Price, v) }, tracked: true},
	"e1_date":   {get: func(p *domain.Position) string { return formatTimeStr(p.E1Date) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.E1Date, v) }, tracked: true},
	"e2_shares": {get: func(p *domain.Position) string { return formatFloat(p.E2Shares) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E2Shares, v) }, tracked: true},
	"e2_price":  {get: func(p *domain.Position) string { return formatFloat(p.E2Price) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E2Price, v) }, tracked: true},
	"e2_date":   {get: func(p *domain.Position) string { return formatTimeStr(p.E2Date) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.E2Date, v) }, tracked: true},
	"e3_shares": {get: func(p *domain.Position) string { return formatFloat(p.E3Shares) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E3Shares, v) }, tracked: true},
	"e3_price":  {get: func(p *domain.Position) string { return formatFloat(p.E3Price) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.E3Price, v) }, tracked: true},
	"e3_date":   {get: func(p *domain.Position) string { return formatTimeStr(p.E3Date) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.E3Date, v) }, tracked: true},

	"tp1_sold":  {get: func(p *domain.Position) string { return formatFloat(p.TP1Sold) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP1Sold, v) }, tracked: true},
	"tp1_price": {get: func(p *domain.Position) string { return formatFloat(p.TP1Price) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP1Price, v) }, tracked: true},
	"tp1_date":  {get: func(p *domain.Position) string { return formatTimeStr(p.TP1Date) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.TP1Date, v) }, tracked: true},
	"tp2_sold":  {get: func(p *domain.Position) string { return formatFloat(p.TP2Sold) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP2Sold, v) }, tracked: true},
	"tp2_price": {get: func(p *domain.Position) string { return formatFloat(p.TP2Price) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP2Price, v) }, tracked: true},
	"tp2_date":  {get: func(p *domain.Position) string { return formatTimeStr(p.TP2Date) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.TP2Date, v) }, tracked: true},

	"total_shares":    {get: func(p *domain.Position) string { return formatFloat(p.TotalShares) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TotalShares, v) }, tracked: true},
	"avg_cost":        {get: func(p *domain.Position) string { return formatFloat(p.AvgCost) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.AvgCost, v) }, tracked: true},
	"current_pnl_pct": {get: func(p *domain.Position) string { return formatFloat(p.CurrentPnLPct) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.CurrentPnLPct, v) }},
	"stop_price":      {get: func(p *domain.Position) string { return formatFloat(p.StopPrice) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.StopPrice, v) }, tracked: true},
	"tp1_target":      {get: func(p *domain.Position) string { return formatFloat(p.TP1Target) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP1Target, v) }, tracked: true},
	"tp2_target":      {get: func(p *domain.Position) string { return formatFloat(p.TP2Target) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.TP2Target, v) }, tracked: true},
	"stop_is_manual":  {get: func(p *domain.Position) string { return strconv.FormatBool(p.StopIsManual) }, set: func(p *domain.Position, v interface{}) error { return setBool(&p.StopIsManual, v) }},
	"tp1_is_manual":   {get: func(p *domain.Position) string { return strconv.FormatBool(p.TP1IsManual) }, set: func(p *domain.Position, v interface{}) error { return setBool(&p.TP1IsManual, v) }},
	"tp2_is_manual":   {get: func(p *domain.Position) string { return strconv.FormatBool(p.TP2IsManual) }, set: func(p *domain.Position, v interface{}) error { return setBool(&p.TP2IsManual, v) }},
	"running_high":    {get: func(p *domain.Position) string { return formatFloat(p.RunningHigh) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.RunningHigh, v) }},

	"pattern":        {get: func(p *domain.Position) string { return p.Pattern }, set: func(p *domain.Position, v interface{}) error { return setString(&p.Pattern, v) }, tracked: true},
	"base_stage":     {get: func(p *domain.Position) string { return p.BaseStage }, set: func(p *domain.Position, v interface{}) error { return setString(&p.BaseStage, v) }, tracked: true},
	"base_depth":     {get: func(p *domain.Position) string { return formatFloat(p.BaseDepth) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.BaseDepth, v) }, tracked: true},
	"base_length":    {get: func(p *domain.Position) string { return formatFloat(p.BaseLength) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.BaseLength, v) }, tracked: true},
	"pivot":          {get: func(p *domain.Position) string { return formatFloat(p.Pivot) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.Pivot, v) }, tracked: true},
	"pivot_set_date": {get: func(p *domain.Position) string { return formatTimeStr(p.PivotSetDate) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.PivotSetDate, v) }, tracked: true},
	"original_pivot": {get: func(p *domain.Position) string { return formatFloat(p.OriginalPivot) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.OriginalPivot, v) }, tracked: true},

	"rs_rating":     {get: func(p *domain.Position) string { return strconv.Itoa(p.RSRating) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.RSRating, v) }, tracked: true},
	"eps_rating":    {get: func(p *domain.Position) string { return strconv.Itoa(p.EPSRating) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.EPSRating, v) }, tracked: true},
	"comp_rating":   {get: func(p *domain.Position) string { return strconv.Itoa(p.CompRating) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.CompRating, v) }, tracked: true},
	"ad_rating":     {get: func(p *domain.Position) string { return p.ADRating }, set: func(p *domain.Position, v interface{}) error { return setString(&p.ADRating, v) }, tracked: true},
	"industry_rank": {get: func(p *domain.Position) string { return strconv.Itoa(p.IndustryRank) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.IndustryRank, v) }, tracked: true},
	"fund_count":    {get: func(p *domain.Position) string { return strconv.Itoa(p.FundCount) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.FundCount, v) }, tracked: true},

	"entry_grade": {get: func(p *domain.Position) string { return p.EntryGrade }, set: func(p *domain.Position, v interface{}) error { return setString(&p.EntryGrade, v) }, tracked: true},
	"entry_score": {get: func(p *domain.Position) string { return formatFloat(p.EntryScore) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.EntryScore, v) }, tracked: true},

	"last_price":      {get: func(p *domain.Position) string { return formatFloat(p.LastPrice) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.LastPrice, v) }},
	"last_price_time": {get: func(p *domain.Position) string { return formatTimeStr(p.LastPriceTime) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.LastPriceTime, v) }},
	"avg_volume_50d":  {get: func(p *domain.Position) string { return formatFloat(p.AvgVolume50D) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.AvgVolume50D, v) }},
	"earnings_date":   {get: func(p *domain.Position) string { return formatTimeStr(p.EarningsDate) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.EarningsDate, v) }, tracked: true},

	"needs_sheet_sync":      {get: func(p *domain.Position) string { return strconv.FormatBool(p.NeedsSheetSync) }, set: func(p *domain.Position, v interface{}) error { return setBool(&p.NeedsSheetSync, v) }},
	"watching_exited_since": {get: func(p *domain.Position) string { return formatTimeStr(p.WatchingExitedSince) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.WatchingExitedSince, v) }, tracked: true},
	"ma_test_count":         {get: func(p *domain.Position) string { return strconv.Itoa(p.MATestCount) }, set: func(p *domain.Position, v interface{}) error { return setInt(&p.MATestCount, v) }},

	"exit_date":   {get: func(p *domain.Position) string { return formatTimeStr(p.ExitDate) }, set: func(p *domain.Position, v interface{}) error { return setTimePtr(&p.ExitDate, v) }, tracked: true},
	"exit_price":  {get: func(p *domain.Position) string { return formatFloat(p.ExitPrice) }, set: func(p *domain.Position, v interface{}) error { return setFloat(&p.ExitPrice, v) }, tracked: true},
	"exit_reason": {get: func(p *domain.Position) string { return p.ExitReason }, set: func(p *domain.Position, v interface{}) error { return setString(&p.ExitReason, v) }, tracked: true},
}

// trancheFields trigger derived-value recomputation when they change.
var trancheFields = map[string]bool{
	"e1_shares": true, "e1_price": true,
	"e2_shares": true, "e2_price": true,
	"e3_shares": true, "e3_price": true,
	"tp1_sold": true, "tp1_price": true,
	"tp2_sold": true, "tp2_price": true,
}

// Update applies the given field values to a position, recomputes derived
// values, and writes one position_history row per tracked field that
// changed, all in a single transaction. Rows for caller-supplied fields
// carry the caller's source; fields changed only by recomputation are
// recorded as system_calc. Values the caller supplies explicitly always
// win over recomputation: an explicit stop_price, tp1_target or tp2_target
// is additionally flagged manual so later recomputes keep skipping it
// (sticky overrides), unless the caller also supplies the pin field
// (stop_is_manual and friends) and so owns the flag outright. Returns the
// updated position.
func (r *Repository) Update(id int64, fields map[string]interface{}, source string) (*domain.Position, error) {
	var updated *domain.Position

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		current, err := getByIDTx(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
		}

		next := *current
		now := time.Now()

		for name, value := range fields {
			acc, ok := accessors[name]
			if !ok {
				return fmt.Errorf("%w: unknown field %q", domain.ErrInvalidField, name)
			}
			if err := acc.set(&next, value); err != nil {
				return fmt.Errorf("%w: %q: %v", domain.ErrInvalidField, name, err)
			}
		}

		// Sticky overrides: explicit levels become manual. A caller that
		// supplies the pin field itself in the same update keeps control
		// of it: the exit flow clears levels and pins together.
		if _, ok := fields["stop_price"]; ok {
			if _, pinned := fields["stop_is_manual"]; !pinned {
				next.StopIsManual = true
			}
		}
		if _, ok := fields["tp1_target"]; ok {
			if _, pinned := fields["tp1_is_manual"]; !pinned {
				next.TP1IsManual = true
			}
		}
		if _, ok := fields["tp2_target"]; ok {
			if _, pinned := fields["tp2_is_manual"]; !pinned {
				next.TP2IsManual = true
			}
		}

		// Setting a pivot stamps pivot_set_date in the same write.
		if _, ok := fields["pivot"]; ok {
			if _, dated := fields["pivot_set_date"]; !dated && next.Pivot != current.Pivot {
				next.PivotSetDate = &now
			}
		}

		recalc := false
		for name := range fields {
			if trancheFields[name] {
				recalc = true
				break
			}
		}
		if recalc {
			recalcDerived(&next, fields)
		}

		if err := writeHistoryDiff(tx, current, &next, source, fields, now); err != nil {
			return err
		}

		next.UpdatedAt = now
		if err := persistTx(tx, &next); err != nil {
			return err
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().Int64("id", id).Str("source", source).Int("fields", len(fields)).Msg("Position updated")
	return updated, nil
}

// recalcDerived recomputes total_shares, avg_cost, current_pnl_pct and the
// default stop/target levels from the tranches. Levels the caller supplied
// in this same update or pinned manually earlier are left untouched.
func recalcDerived(p *domain.Position, explicit map[string]interface{}) {
	bought := p.E1Shares + p.E2Shares + p.E3Shares
	sold := p.TP1Sold + p.TP2Sold

	p.TotalShares = bought - sold
	if p.TotalShares < 0 {
		p.TotalShares = 0
	}

	// Average cost covers all acquired shares; sells never move it.
	if bought > 0 {
		p.AvgCost = (p.E1Shares*p.E1Price + p.E2Shares*p.E2Price + p.E3Shares*p.E3Price) / bought
	} else {
		p.AvgCost = 0
	}

	if p.AvgCost > 0 && p.LastPrice > 0 {
		p.CurrentPnLPct = (p.LastPrice - p.AvgCost) / p.AvgCost * 100
	}

	if _, ok := explicit["stop_price"]; !ok && !p.StopIsManual && p.AvgCost > 0 {
		p.StopPrice = p.AvgCost * defaultStopMult
	}
	if _, ok := explicit["tp1_target"]; !ok && !p.TP1IsManual && p.AvgCost > 0 {
		p.TP1Target = p.AvgCost * defaultTP1Mult
	}
	if _, ok := explicit["tp2_target"]; !ok && !p.TP2IsManual && p.AvgCost > 0 {
		p.TP2Target = p.AvgCost * defaultTP2Mult
	}
}

// writeHistoryDiff compares tracked fields between old and new and inserts
// one history row per change. Changes to fields the caller never supplied
// came out of recalcDerived or a stamp, so those rows are attributed to
// system_calc rather than the caller's source.
func writeHistoryDiff(tx *sql.Tx, old, new *domain.Position, source string, explicit map[string]interface{}, at time.Time) error {
	for name, acc := range accessors {
		if !acc.tracked {
			continue
		}
		oldVal := acc.get(old)
		newVal := acc.get(new)
		if oldVal == newVal {
			continue
		}
		rowSource := source
		if _, ok := explicit[name]; !ok {
			rowSource = domain.SourceSystemCalc
		}
		_, err := tx.Exec(`
			INSERT INTO position_history (position_id, field_name, old_value, new_value, change_source, changed_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			old.ID, name, oldVal, newVal, rowSource, at.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to write history for %s: %w", name, err)
		}
	}
	return nil
}

// UpdatePrice refreshes the market-facing cache fields from a quote. These
// fields are untracked, so no history rows are produced; the write is a
// single UPDATE outside the accessor machinery.
func (r *Repository) UpdatePrice(id int64, price float64, at time.Time) error {
	if price <= 0 {
		return nil
	}

	p, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
	}

	pnl := p.CurrentPnLPct
	if p.AvgCost > 0 {
		pnl = (price - p.AvgCost) / p.AvgCost * 100
	}

	high := p.RunningHigh
	if p.IsOpen() && price > high {
		high = price
	}

	_, err = r.db.Exec(`
		UPDATE positions
		SET last_price = ?, last_price_time = ?, current_pnl_pct = ?, running_high = ?, updated_at = ?
		WHERE id = ?`,
		price, at.Format(time.RFC3339), pnl, high, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update price for position %d: %w", id, err)
	}

	if r.bus != nil {
		r.bus.EmitData("positions", &events.PositionUpdatedData{
			PositionID:  id,
			Symbol:      p.Symbol,
			Price:       price,
			PnLPct:      pnl,
			RunningHigh: high,
		})
	}
	return nil
}

// SetPivot sets a new pivot and stamps pivot_set_date atomically.
func (r *Repository) SetPivot(id int64, pivot float64, source string) (*domain.Position, error) {
	return r.Update(id, map[string]interface{}{"pivot": pivot}, source)
}

// SetMATestCount updates the consecutive-closes-below-21EMA counter
// maintained by the position worker. Untracked cache write.
func (r *Repository) SetMATestCount(id int64, count int) error {
	_, err := r.db.Exec(`UPDATE positions SET ma_test_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update ma_test_count for position %d: %w", id, err)
	}
	return nil
}

// SetAvgVolume updates the cached 50-day average volume.
func (r *Repository) SetAvgVolume(id int64, avgVolume float64) error {
	_, err := r.db.Exec(`UPDATE positions SET avg_volume_50d = ?, updated_at = ? WHERE id = ?`,
		avgVolume, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update avg_volume_50d for position %d: %w", id, err)
	}
	return nil
}

// getByIDTx loads a position inside an open transaction.
func getByIDTx(tx *sql.Tx, id int64) (*domain.Position, error) {
	row := tx.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %d: %w", id, err)
	}
	return p, nil
}

// persistTx writes every column of the position back inside a transaction.
func persistTx(tx *sql.Tx, p *domain.Position) error {
	_, err := tx.Exec(`
		UPDATE positions SET
			symbol = ?, portfolio = ?, state = ?,
			e1_shares = ?, e1_price = ?, e1_date = ?,
			e2_shares = ?, e2_price = ?, e2_date = ?,
			e3_shares = ?, e3_price = ?, e3_date = ?,
			tp1_sold = ?, tp1_price = ?, tp1_date = ?,
			tp2_sold = ?, tp2_price = ?, tp2_date = ?,
			total_shares = ?, avg_cost = ?, current_pnl_pct = ?,
			stop_price = ?, tp1_target = ?, tp2_target = ?,
			stop_is_manual = ?, tp1_is_manual = ?, tp2_is_manual = ?, running_high = ?,
			pattern = ?, base_stage = ?, base_depth = ?, base_length = ?,
			pivot = ?, pivot_set_date = ?, original_pivot = ?,
			rs_rating = ?, eps_rating = ?, comp_rating = ?, ad_rating = ?,
			industry_rank = ?, fund_count = ?,
			entry_grade = ?, entry_score = ?,
			last_price = ?, last_price_time = ?, avg_volume_50d = ?, earnings_date = ?,
			needs_sheet_sync = ?, watching_exited_since = ?, ma_test_count = ?,
			exit_date = ?, exit_price = ?, exit_reason = ?,
			updated_at = ?
		WHERE id = ?`,
		p.Symbol, p.Portfolio, float64(p.State),
		p.E1Shares, p.E1Price, formatTimePtr(p.E1Date),
		p.E2Shares, p.E2Price, formatTimePtr(p.E2Date),
		p.E3Shares, p.E3Price, formatTimePtr(p.E3Date),
		p.TP1Sold, p.TP1Price, formatTimePtr(p.TP1Date),
		p.TP2Sold, p.TP2Price, formatTimePtr(p.TP2Date),
		p.TotalShares, p.AvgCost, p.CurrentPnLPct,
		p.StopPrice, p.TP1Target, p.TP2Target,
		boolToInt(p.StopIsManual), boolToInt(p.TP1IsManual), boolToInt(p.TP2IsManual), p.RunningHigh,
		p.Pattern, p.BaseStage, p.BaseDepth, p.BaseLength,
		p.Pivot, formatTimePtr(p.PivotSetDate), p.OriginalPivot,
		p.RSRating, p.EPSRating, p.CompRating, p.ADRating,
		p.IndustryRank, p.FundCount,
		p.EntryGrade, p.EntryScore,
		p.LastPrice, formatTimePtr(p.LastPriceTime), p.AvgVolume50D, formatTimePtr(p.EarningsDate),
		boolToInt(p.NeedsSheetSync), formatTimePtr(p.WatchingExitedSince), p.MATestCount,
		formatTimePtr(p.ExitDate), p.ExitPrice, p.ExitReason,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to persist position %d: %w", p.ID, err)
	}
	return nil
}

// Conversion helpers: values arrive as whatever the caller naturally has
// (float64, int, string, time.Time, pointers), so each setter normalizes.

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case domain.PositionState:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

func setFloat(dst *float64, v interface{}) error {
	f, err := toFloat(v)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setInt(dst *int, v interface{}) error {
	switch x := v.(type) {
	case int:
		*dst = x
	case int64:
		*dst = int(x)
	case float64:
		*dst = int(x)
	default:
		return fmt.Errorf("cannot convert %T to int", v)
	}
	return nil
}

func setString(dst *string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("cannot convert %T to string", v)
	}
	*dst = s
	return nil
}

func setBool(dst *bool, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("cannot convert %T to bool", v)
	}
	*dst = b
	return nil
}

func setTimePtr(dst **time.Time, v interface{}) error {
	switch x := v.(type) {
	case nil:
		*dst = nil
	case time.Time:
		t := x
		*dst = &t
	case *time.Time:
		*dst = x
	case string:
		if x == "" {
			*dst = nil
			return nil
		}
		t, err := parseTime(x)
		if err != nil {
			return fmt.Errorf("cannot parse time %q: %w", x, err)
		}
		*dst = &t
	default:
		return fmt.Errorf("cannot convert %T to time", v)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatTimeStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
