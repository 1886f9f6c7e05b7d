package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/slimwatch/internal/domain"
)

// writePositionError maps repository errors onto HTTP statuses: unknown ids
// are 404, illegal transitions 409, rejected field input 400, the rest 500.
func (s *Server) writePositionError(w http.ResponseWriter, err error, id int64, msg string) {
	switch {
	case errors.Is(err, domain.ErrPositionNotFound):
		s.writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMissingField), errors.Is(err, domain.ErrInvalidField):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Int64("position_id", id).Msg("Position write failed")
		s.writeError(w, http.StatusInternalServerError, msg)
	}
}

// parseTradeDate reads an optional RFC3339 trade timestamp; empty means now.
func parseTradeDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// handleCreateWatchlist adds a symbol to the watchlist in state 0.
func (s *Server) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string  `json:"symbol"`
		Pivot     float64 `json:"pivot"`
		Pattern   string  `json:"pattern"`
		Portfolio string  `json:"portfolio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	p, err := s.posWriter.CreateWatchlist(symbol, req.Pivot, req.Pattern, req.Portfolio)
	if err != nil {
		s.writePositionError(w, err, 0, "failed to create watchlist entry")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"position": p})
}

// handleEditPosition applies a manual field edit. State changes are
// rejected here; the lifecycle routes own those.
func (s *Server) handleEditPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(fields) == 0 {
		s.writeError(w, http.StatusBadRequest, "no fields provided")
		return
	}
	if _, ok := fields["state"]; ok {
		s.writeError(w, http.StatusBadRequest, "state changes go through the lifecycle routes")
		return
	}

	p, err := s.posWriter.Update(id, fields, domain.SourceManualEdit)
	if err != nil {
		s.writePositionError(w, err, id, "failed to update position")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleDeletePosition removes a position and its history outright.
// Normal lifecycle ends in ARCHIVED; this is the administrative eraser.
func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	if err := s.posWriter.Delete(id); err != nil {
		s.writePositionError(w, err, id, "failed to delete position")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

// handleSetPivot updates the buy point and stamps pivot_set_date.
func (s *Server) handleSetPivot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Pivot float64 `json:"pivot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pivot <= 0 {
		s.writeError(w, http.StatusBadRequest, "pivot must be positive")
		return
	}

	p, err := s.posWriter.SetPivot(id, req.Pivot, domain.SourceManualEdit)
	if err != nil {
		s.writePositionError(w, err, id, "failed to set pivot")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleLogEntry records a filled buy tranche (1 enters, 2 and 3 pyramid).
func (s *Server) handleLogEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Tranche int     `json:"tranche"`
		Shares  float64 `json:"shares"`
		Price   float64 `json:"price"`
		Date    string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tranche < 1 || req.Tranche > 3 {
		s.writeError(w, http.StatusBadRequest, "tranche must be 1, 2 or 3")
		return
	}
	if req.Shares <= 0 || req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "shares and price must be positive")
		return
	}
	date, err := parseTradeDate(req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be RFC3339")
		return
	}

	p, err := s.posWriter.LogEntry(id, req.Tranche, req.Shares, req.Price, date)
	if err != nil {
		s.writePositionError(w, err, id, "failed to log entry")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleLogSale records a profit-taking sale at level 1 or 2.
func (s *Server) handleLogSale(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Level  int     `json:"level"`
		Shares float64 `json:"shares"`
		Price  float64 `json:"price"`
		Date   string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Level != 1 && req.Level != 2 {
		s.writeError(w, http.StatusBadRequest, "level must be 1 or 2")
		return
	}
	if req.Shares <= 0 || req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "shares and price must be positive")
		return
	}
	date, err := parseTradeDate(req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be RFC3339")
		return
	}

	p, err := s.posWriter.LogSale(id, req.Level, req.Shares, req.Price, date)
	if err != nil {
		s.writePositionError(w, err, id, "failed to log sale")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleExitToWatch records a full exit and moves the position onto the
// re-entry watch, zeroing tranches and levels.
func (s *Server) handleExitToWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Price  float64 `json:"price"`
		Reason string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.Reason == "" {
		s.writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	p, err := s.posWriter.TransitionToWatchingExited(id, req.Price, req.Reason)
	if err != nil {
		s.writePositionError(w, err, id, "failed to move position to re-entry watch")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleClosePosition records a manual close. A zero price with no reason
// simply removes a watchlist entry.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Price  float64 `json:"price"`
		Reason string  `json:"reason"`
		Date   string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := parseTradeDate(req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be RFC3339")
		return
	}

	p, err := s.posWriter.Close(id, req.Price, req.Reason, date)
	if err != nil {
		s.writePositionError(w, err, id, "failed to close position")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleReturnToWatchlist resolves a re-entry watch back into a plain
// watchlist entry with a fresh pivot.
func (s *Server) handleReturnToWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Pivot float64 `json:"pivot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.posWriter.ReturnToWatchlist(id, req.Pivot)
	if err != nil {
		s.writePositionError(w, err, id, "failed to return position to watchlist")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}

// handleReenter resolves a re-entry watch directly into a fresh first
// tranche. Omitting the stop lets the repository derive the default.
func (s *Server) handleReenter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Shares    float64 `json:"shares"`
		Price     float64 `json:"price"`
		StopPrice float64 `json:"stop_price"`
		Date      string  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Shares <= 0 || req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "shares and price must be positive")
		return
	}
	date, err := parseTradeDate(req.Date)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "date must be RFC3339")
		return
	}

	p, err := s.posWriter.ReenterFromWatchingExited(id, req.Shares, req.Price, req.StopPrice, date)
	if err != nil {
		s.writePositionError(w, err, id, "failed to re-enter position")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"position": p})
}
