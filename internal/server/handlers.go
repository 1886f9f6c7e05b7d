package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/supervisor"
	"github.com/aristath/slimwatch/internal/version"
)

// Bounds for caller-supplied limits.
const (
	defaultAlertLimit   = 50
	maxAlertLimit       = 500
	defaultHistoryLimit = 200
	maxHistoryLimit     = 2000
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 500
)

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Health check failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// statusResponse is the supervisor snapshot with database file figures
// riding along.
type statusResponse struct {
	supervisor.Status
	Database *database.Stats `json:"database,omitempty"`
}

// handleStatus returns the supervisor snapshot: per-worker counters,
// service state, uptime, host figures, database size.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.supervisor.Status()}
	if s.db != nil {
		dbStats, err := s.db.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read database stats")
		} else {
			resp.Database = dbStats
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleListPositions returns all positions, optionally filtered by
// state (?state=1, or ?state=open for every holding state) or narrowed
// to one symbol's live row (?symbol=NVDA).
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Position
		err  error
	)

	switch {
	case r.URL.Query().Get("symbol") != "":
		var p *domain.Position
		p, err = s.positions.GetBySymbol(r.URL.Query().Get("symbol"))
		if p != nil {
			list = []domain.Position{*p}
		}
	case r.URL.Query().Get("state") == "open":
		list, err = s.positions.GetOpen()
	case r.URL.Query().Get("state") != "":
		state, perr := strconv.ParseFloat(r.URL.Query().Get("state"), 64)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "invalid state filter")
			return
		}
		list, err = s.positions.GetByState(domain.PositionState(state))
	default:
		list, err = s.positions.GetAll()
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list positions")
		s.writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	resp := map[string]interface{}{
		"positions": list,
		"count":     len(list),
	}

	// Latest alert per symbol rides along; the list still serves when the
	// lookup fails.
	if len(list) > 0 {
		symbols := make([]string, 0, len(list))
		for _, p := range list {
			symbols = append(symbols, p.Symbol)
		}
		latest, aerr := s.alerts.LatestForSymbols(symbols)
		if aerr != nil {
			s.log.Warn().Err(aerr).Msg("Failed to load latest alerts for positions")
		} else if len(latest) > 0 {
			resp["last_alerts"] = latest
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetPosition returns one position by id with its newest alert.
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	p, err := s.positions.GetByID(id)
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load position")
		s.writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}

	resp := map[string]interface{}{
		"position":            p,
		"allowed_transitions": allowedTransitions(p.State),
	}
	last, aerr := s.alerts.LatestForPosition(id)
	if aerr != nil {
		s.log.Warn().Err(aerr).Int64("position_id", id).Msg("Failed to load latest alert")
	} else if last != nil {
		resp["last_alert"] = last
	}

	// Closed trades carry their recorded outcome.
	if s.outcomes != nil {
		o, oerr := s.outcomes.GetByPositionID(id)
		if oerr != nil {
			s.log.Warn().Err(oerr).Int64("position_id", id).Msg("Failed to load outcome")
		} else if o != nil {
			resp["outcome"] = o
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// positionStates lists every lifecycle state for transition projection.
var positionStates = []domain.PositionState{
	domain.StateArchived, domain.StateWatchingExited, domain.StateClosed,
	domain.StateWatching, domain.StateEntered, domain.StatePyramid1,
	domain.StateFullPosition, domain.StateTookProfit1, domain.StateTookProfit2,
	domain.StateTrailing,
}

// allowedTransitions names the states legally reachable from here, so a
// client can offer only moves the transition table will accept.
func allowedTransitions(from domain.PositionState) []string {
	out := make([]string, 0, 4)
	for _, to := range positionStates {
		if domain.CanTransition(from, to) {
			out = append(out, to.String())
		}
	}
	return out
}

// handlePositionHistory returns the append-only change log for one
// position, newest first. ?field= narrows to one field's changes and
// ?since= (RFC3339) to changes after a point in time.
func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	p, err := s.positions.GetByID(id)
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load position")
		s.writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}

	limit := s.parseLimit(r, defaultHistoryLimit, maxHistoryLimit)

	var history []domain.PositionHistory
	switch {
	case r.URL.Query().Get("field") != "":
		history, err = s.positions.GetHistoryForField(id, r.URL.Query().Get("field"), limit)
	case r.URL.Query().Get("since") != "":
		since, perr := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		history, err = s.positions.GetHistorySince(id, since)
	default:
		history, err = s.positions.GetHistory(id, limit)
	}
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load position history")
		s.writeError(w, http.StatusInternalServerError, "failed to load position history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"history":     history,
		"count":       len(history),
	})
}

// handlePositionTimeline materializes the position at every recorded
// change, newest first, by walking the history log backward.
func (s *Server) handlePositionTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	snaps, err := s.positions.ReconstructSnapshots(id)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			s.writeError(w, http.StatusNotFound, "position not found")
			return
		}
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to reconstruct position timeline")
		s.writeError(w, http.StatusInternalServerError, "failed to reconstruct timeline")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"timeline":    snaps,
		"count":       len(snaps),
	})
}

// handlePositionSnapshots returns the stored end-of-day snapshot rows,
// newest first.
func (s *Server) handlePositionSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	p, err := s.positions.GetByID(id)
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load position")
		s.writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}

	limit := s.parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	snaps, err := s.positions.GetSnapshots(id, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load snapshots")
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"snapshots":   snaps,
		"count":       len(snaps),
	})
}

// signalView is the wire shape for one live rule hit. The full position
// context stays internal.
type signalView struct {
	Type     string  `json:"type"`
	Subtype  string  `json:"subtype"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Price    float64 `json:"price"`
}

// handlePositionSignals evaluates the position's checker suite in status
// mode and returns what would fire right now. Cooldowns are untouched and
// nothing is persisted.
func (s *Server) handlePositionSignals(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	p, err := s.positions.GetByID(id)
	if err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to load position")
		s.writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}

	hits, err := s.signals.Scan(p)
	if err != nil {
		if errors.Is(err, domain.ErrNoQuote) || errors.Is(err, domain.ErrProviderUnavailable) {
			s.writeError(w, http.StatusServiceUnavailable, "live quote unavailable")
			return
		}
		s.log.Error().Err(err).Int64("position_id", id).Msg("Failed to evaluate signals")
		s.writeError(w, http.StatusInternalServerError, "failed to evaluate signals")
		return
	}

	views := make([]signalView, 0, len(hits))
	for _, h := range hits {
		views = append(views, signalView{
			Type:     h.Type,
			Subtype:  h.Subtype,
			Severity: alerts.Severity(h.Type, h.Subtype),
			Message:  h.Message,
			Price:    h.Price,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"position_id": id,
		"symbol":      p.Symbol,
		"state":       p.State.String(),
		"signals":     views,
		"count":       len(views),
	})
}

// handleRecentAlerts returns the newest alerts (?limit=).
func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := s.parseLimit(r, defaultAlertLimit, maxAlertLimit)

	recent, err := s.alerts.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load recent alerts")
		s.writeError(w, http.StatusInternalServerError, "failed to load recent alerts")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": recent,
		"count":  len(recent),
	})
}

// handleAlertDetail returns one alert with its decoded context snapshot,
// the full picture the checker saw when the rule fired.
func (s *Server) handleAlertDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.alerts.Get(id)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", id).Msg("Failed to load alert")
		s.writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	if a == nil {
		s.writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	resp := map[string]interface{}{"alert": a}
	snapshot, derr := alerts.DecodeContext(a)
	if derr != nil {
		s.log.Warn().Err(derr).Str("alert_id", id).Msg("Failed to decode context snapshot")
	} else if snapshot != nil {
		resp["context"] = snapshot
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleAcknowledgeAlert flips the acknowledged flag. Repeat calls succeed.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.alerts.Get(id)
	if err != nil {
		s.log.Error().Err(err).Str("alert_id", id).Msg("Failed to load alert")
		s.writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	if a == nil {
		s.writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	if err := s.alerts.Acknowledge(id); err != nil {
		s.log.Error().Err(err).Str("alert_id", id).Msg("Failed to acknowledge alert")
		s.writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           id,
		"acknowledged": true,
	})
}

// currentRegimeResponse is the stored evaluation with the live
// distribution-day tallies riding along. The live numbers come straight
// from the store, so a day that aged out since the last evaluation is
// already gone from them.
type currentRegimeResponse struct {
	*regime.MarketRegimeAlert
	LiveSPYDDays *int `json:"live_spy_d_days,omitempty"`
	LiveQQQDDays *int `json:"live_qqq_d_days,omitempty"`
}

// handleCurrentRegime returns the latest market regime evaluation.
func (s *Server) handleCurrentRegime(w http.ResponseWriter, r *http.Request) {
	current, err := s.regime.Current()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load current regime")
		s.writeError(w, http.StatusInternalServerError, "failed to load current regime")
		return
	}
	if current == nil {
		s.writeError(w, http.StatusNotFound, "no regime evaluation yet")
		return
	}

	resp := currentRegimeResponse{MarketRegimeAlert: current}
	if n, err := s.regime.ActiveDDayCount("SPY"); err != nil {
		s.log.Warn().Err(err).Msg("Failed to count live SPY distribution days")
	} else {
		resp.LiveSPYDDays = &n
	}
	if n, err := s.regime.ActiveDDayCount("QQQ"); err != nil {
		s.log.Warn().Err(err).Msg("Failed to count live QQQ distribution days")
	} else {
		resp.LiveQQQDDays = &n
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// regimeHistoryDays is the default window for /regime/history when the
// caller gives no bounds.
const regimeHistoryDays = 30

// handleRegimeHistory returns stored evaluations between ?from= and ?to=
// (YYYY-MM-DD, inclusive, ascending). Missing bounds default to the last
// thirty days.
func (s *Server) handleRegimeHistory(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if to == "" {
		to = time.Now().Format("2006-01-02")
	}
	if from == "" {
		from = time.Now().AddDate(0, 0, -regimeHistoryDays).Format("2006-01-02")
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}

	records, err := s.regime.History(from, to)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load regime history")
		s.writeError(w, http.StatusInternalServerError, "failed to load regime history")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"from":    from,
		"to":      to,
	})
}

// handleListOutcomes returns the newest recorded trade outcomes (?limit=)
// together with the per-class tallies across the whole table.
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := s.parseLimit(r, defaultOutcomeLimit, maxOutcomeLimit)

	recent, err := s.outcomes.Recent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load outcomes")
		s.writeError(w, http.StatusInternalServerError, "failed to load outcomes")
		return
	}

	counts, err := s.outcomes.CountByClass()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count outcomes")
		s.writeError(w, http.StatusInternalServerError, "failed to count outcomes")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": recent,
		"count":    len(recent),
		"by_class": counts,
	})
}

// refreshRequest narrows a refresh to one worker. An empty body or empty
// worker means all.
type refreshRequest struct {
	Worker string `json:"worker"`
}

// handleRefresh wakes workers for an immediate cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Worker != "" {
		if err := s.supervisor.RefreshWorker(req.Worker); err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"refreshed": req.Worker})
		return
	}

	s.supervisor.RefreshAll()
	s.writeJSON(w, http.StatusOK, map[string]string{"refreshed": "all"})
}

func (s *Server) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid position id")
		return 0, false
	}
	return id, true
}

func (s *Server) parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
