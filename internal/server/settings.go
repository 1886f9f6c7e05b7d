package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/slimwatch/internal/modules/settings"
)

// settingUpdateRequest carries one override value. JSON strings, numbers,
// and booleans are accepted; the settings service validates against the
// key's declared kind.
type settingUpdateRequest struct {
	Value interface{} `json:"value"`
}

// handleListSettings serves GET /api/settings: every known tunable with
// its stored override, plus any orphaned rows.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	views, err := s.settings.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list settings")
		s.writeError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": views,
		"count":    len(views),
	})
}

// handleUpdateSetting serves PUT /api/settings/{key}. Unknown keys and
// values the key's readers could not parse are rejected.
func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req settingUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	value, err := settingValueString(req.Value)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.settings.Update(key, value); err != nil {
		if errors.Is(err, settings.ErrUnknownSetting) || errors.Is(err, settings.ErrInvalidValue) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Str("key", key).Msg("Failed to update setting")
		s.writeError(w, http.StatusInternalServerError, "failed to update setting")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{key: value})
}

// handleClearSetting serves DELETE /api/settings/{key}: drops the
// override so the compiled default applies again. Clearing a key with no
// override succeeds.
func (s *Server) handleClearSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.settings.Clear(key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to clear setting")
		s.writeError(w, http.StatusInternalServerError, "failed to clear setting")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "cleared": true})
}

// settingValueString flattens the JSON value into the string form the
// settings service validates.
func settingValueString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", errors.New("value is required")
	default:
		return "", errors.New("value must be a string, number, or boolean")
	}
}
