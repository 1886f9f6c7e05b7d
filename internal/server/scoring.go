package server

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/slimwatch/internal/modules/scoring"
	"github.com/aristath/slimwatch/internal/modules/sizing"
)

// scoringPreviewRequest carries one candidate setup for grading. Inline
// attributes describe an unsaved candidate; position_id grades a stored
// position instead, with its saved pivot and 50-day volume as sizing
// defaults. The sizing block is optional; without a pivot the response
// is grade-only.
type scoringPreviewRequest struct {
	PositionID int64 `json:"position_id"`

	Symbol          string  `json:"symbol"`
	RSRating        int     `json:"rs_rating"`
	Pattern         string  `json:"pattern"`
	BaseStage       string  `json:"base_stage"`
	BaseDepthPct    float64 `json:"base_depth_pct"`
	BaseLengthWeeks float64 `json:"base_length_weeks"`

	Pivot          float64  `json:"pivot"`
	AvgDailyVolume float64  `json:"avg_daily_volume"`
	Spread         *float64 `json:"spread,omitempty"`
}

// handleScoringPreview grades a candidate setup with the active rule table
// and, when a pivot is supplied, sizes it against the configured portfolio
// value. Static factors only; nothing is persisted.
func (s *Server) handleScoringPreview(w http.ResponseWriter, r *http.Request) {
	var req scoringPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	attrs := scoring.PositionAttrs{
		Symbol:     req.Symbol,
		RSRating:   req.RSRating,
		Pattern:    req.Pattern,
		BaseStage:  req.BaseStage,
		BaseDepth:  req.BaseDepthPct,
		BaseLength: req.BaseLengthWeeks,
	}
	if req.PositionID > 0 {
		p, err := s.positions.GetByID(req.PositionID)
		if err != nil {
			s.log.Error().Err(err).Int64("position_id", req.PositionID).Msg("Failed to load position")
			s.writeError(w, http.StatusInternalServerError, "failed to load position")
			return
		}
		if p == nil {
			s.writeError(w, http.StatusNotFound, "position not found")
			return
		}
		attrs = scoring.AttrsFromPosition(p)
		if req.Pivot == 0 {
			req.Pivot = p.Pivot
		}
		if req.AvgDailyVolume == 0 {
			req.AvgDailyVolume = p.AvgVolume50D
		}
	} else if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol or position_id is required")
		return
	}

	result := s.scorer.Score(attrs, nil, nil)

	resp := map[string]interface{}{"scoring": result}

	if req.Pivot > 0 {
		var portfolioValue float64
		if s.settings != nil {
			v, err := s.settings.GetFloat("portfolio_value", 0)
			if err != nil {
				s.log.Error().Err(err).Msg("Failed to read portfolio value")
				s.writeError(w, http.StatusInternalServerError, "failed to read portfolio value")
				return
			}
			portfolioValue = v
		}

		feasibility, err := sizing.Calculate(sizing.Input{
			Grade:          result.Grade,
			Pivot:          req.Pivot,
			AvgDailyVolume: req.AvgDailyVolume,
			PortfolioValue: portfolioValue,
			Spread:         req.Spread,
		})
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp["feasibility"] = feasibility
	}

	s.writeJSON(w, http.StatusOK, resp)
}
