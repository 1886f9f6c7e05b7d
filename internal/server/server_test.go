package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/positions"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/scoring"
	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/aristath/slimwatch/internal/supervisor"
	helpers "github.com/aristath/slimwatch/internal/testing"
	"github.com/aristath/slimwatch/internal/workers"
)

type fakePositions struct {
	all       []domain.Position
	byState   map[domain.PositionState][]domain.Position
	byID      map[int64]*domain.Position
	history   map[int64][]domain.PositionHistory
	snapshots map[int64][]positions.Snapshot
	err       error
}

func (f *fakePositions) GetAll() ([]domain.Position, error) {
	return f.all, f.err
}

func (f *fakePositions) GetByState(state domain.PositionState) ([]domain.Position, error) {
	return f.byState[state], f.err
}

func (f *fakePositions) GetOpen() ([]domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	var open []domain.Position
	for _, p := range f.all {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open, nil
}

func (f *fakePositions) GetByID(id int64) (*domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

func (f *fakePositions) GetBySymbol(symbol string) (*domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.all {
		if f.all[i].Symbol == symbol {
			return &f.all[i], nil
		}
	}
	return nil, nil
}

func (f *fakePositions) GetHistory(id int64, limit int) ([]domain.PositionHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := f.history[id]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (f *fakePositions) GetHistoryForField(id int64, field string, limit int) ([]domain.PositionHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PositionHistory
	for _, h := range f.history[id] {
		if h.FieldName == field {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakePositions) GetHistorySince(id int64, since time.Time) ([]domain.PositionHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PositionHistory
	for _, h := range f.history[id] {
		if !h.ChangedAt.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakePositions) ReconstructSnapshots(id int64) ([]positions.HistoricalSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", domain.ErrPositionNotFound, id)
	}
	return []positions.HistoricalSnapshot{{Source: domain.SourceCurrent, Position: *p}}, nil
}

func (f *fakePositions) GetSnapshots(id int64, limit int) ([]positions.Snapshot, error) {
	return f.snapshots[id], f.err
}

type fakeAlerts struct {
	recent     []alerts.Alert
	byID       map[string]*alerts.Alert
	latest     map[string]alerts.Alert
	byPosition map[int64]*alerts.Alert
	acked      []string
	gotSymbols []string
	gotLimit   int
	err        error
}

func (f *fakeAlerts) Recent(limit int) ([]alerts.Alert, error) {
	f.gotLimit = limit
	return f.recent, f.err
}

func (f *fakeAlerts) Get(id string) (*alerts.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

func (f *fakeAlerts) LatestForPosition(positionID int64) (*alerts.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byPosition[positionID], nil
}

func (f *fakeAlerts) LatestForSymbols(symbols []string) (map[string]alerts.Alert, error) {
	f.gotSymbols = symbols
	if f.err != nil {
		return nil, f.err
	}
	return f.latest, nil
}

func (f *fakeAlerts) Acknowledge(id string) error {
	if f.err != nil {
		return f.err
	}
	f.acked = append(f.acked, id)
	return nil
}

type fakeRegime struct {
	current *regime.MarketRegimeAlert
	history []regime.MarketRegimeAlert
	dDays   map[string]int
	gotFrom string
	gotTo   string
	err     error
}

func (f *fakeRegime) Current() (*regime.MarketRegimeAlert, error) {
	return f.current, f.err
}

func (f *fakeRegime) History(from, to string) ([]regime.MarketRegimeAlert, error) {
	f.gotFrom, f.gotTo = from, to
	return f.history, f.err
}

func (f *fakeRegime) ActiveDDayCount(symbol string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.dDays[symbol], nil
}

type fakeSupervisor struct {
	refreshedAll bool
	refreshed    []string
	refreshErr   error
}

func (f *fakeSupervisor) Status() supervisor.Status {
	return supervisor.Status{
		ServiceState: supervisor.ServiceRunning,
		Workers:      map[string]workers.Stats{},
	}
}

func (f *fakeSupervisor) RefreshAll() { f.refreshedAll = true }

func (f *fakeSupervisor) RefreshWorker(name string) error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshed = append(f.refreshed, name)
	return nil
}

func newTestServer(t *testing.T, pos *fakePositions, al *fakeAlerts, reg *fakeRegime, sup StatusSource) *Server {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)

	return New(Deps{
		Log:        zerolog.Nop(),
		Port:       0,
		DB:         db,
		Positions:  pos,
		Alerts:     al,
		Regime:     reg,
		Supervisor: sup,
		Bus:        events.NewBus(zerolog.Nop()),
	})
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func post(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func put(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func del(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func watchlistPosition(id int64, symbol string, state domain.PositionState) domain.Position {
	return domain.Position{ID: id, Symbol: symbol, Portfolio: "growth", State: state, Pivot: 100}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	for _, path := range []string{"/health", "/api/health"} {
		rec := get(t, srv, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.NotEmpty(t, body["version"])
	}
}

func TestListPositions(t *testing.T) {
	pos := &fakePositions{
		all: []domain.Position{
			watchlistPosition(1, "NVDA", domain.StateWatching),
			watchlistPosition(2, "MSFT", domain.StateFullPosition),
		},
		byState: map[domain.PositionState][]domain.Position{
			domain.StateFullPosition: {watchlistPosition(2, "MSFT", domain.StateFullPosition)},
		},
	}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Positions []domain.Position `json:"positions"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Positions, 2)
	assert.Equal(t, "NVDA", body.Positions[0].Symbol)

	rec = get(t, srv, "/api/positions?state=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "MSFT", body.Positions[0].Symbol)

	rec = get(t, srv, "/api/positions?state=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPosition(t *testing.T) {
	p := watchlistPosition(7, "AMD", domain.StateEntered)
	pos := &fakePositions{byID: map[int64]*domain.Position{7: &p}}
	al := &fakeAlerts{byPosition: map[int64]*alerts.Alert{
		7: {ID: "a9", Symbol: "AMD", Type: "POSITION", Subtype: "STOP_WARNING"},
	}}
	srv := newTestServer(t, pos, al, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions/7")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Position    domain.Position `json:"position"`
		LastAlert   *alerts.Alert   `json:"last_alert"`
		Transitions []string        `json:"allowed_transitions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "AMD", body.Position.Symbol)
	require.NotNil(t, body.LastAlert)
	assert.Equal(t, "STOP_WARNING", body.LastAlert.Subtype)
	assert.Contains(t, body.Transitions, "PYRAMID_1")
	assert.Contains(t, body.Transitions, "CLOSED")
	assert.NotContains(t, body.Transitions, "WATCHING")

	rec = get(t, srv, "/api/positions/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, srv, "/api/positions/xyz")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositionWithoutAlerts(t *testing.T) {
	p := watchlistPosition(7, "AMD", domain.StateEntered)
	pos := &fakePositions{byID: map[int64]*domain.Position{7: &p}}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions/7")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "position")
	assert.NotContains(t, body, "last_alert")
}

func TestPositionHistory(t *testing.T) {
	p := watchlistPosition(7, "AMD", domain.StateEntered)
	now := time.Now()
	pos := &fakePositions{
		byID: map[int64]*domain.Position{7: &p},
		history: map[int64][]domain.PositionHistory{
			7: {
				{PositionID: 7, FieldName: "state", NewValue: "1", ChangedAt: now},
				{PositionID: 7, FieldName: "stop_price", NewValue: "95.5", ChangedAt: now.Add(-time.Hour)},
			},
		},
	}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions/7/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PositionID int64                    `json:"position_id"`
		History    []domain.PositionHistory `json:"history"`
		Count      int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.PositionID)
	assert.Equal(t, 2, body.Count)

	rec = get(t, srv, "/api/positions/7/history?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rec = get(t, srv, "/api/positions/999/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecentAlerts(t *testing.T) {
	al := &fakeAlerts{recent: []alerts.Alert{
		{ID: "a1", Symbol: "NVDA", Type: "POSITION", Subtype: "STOP_HIT"},
	}}
	srv := newTestServer(t, &fakePositions{}, al, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/alerts/recent")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAlertLimit, al.gotLimit)

	var body struct {
		Alerts []alerts.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "STOP_HIT", body.Alerts[0].Subtype)

	get(t, srv, "/api/alerts/recent?limit=10")
	assert.Equal(t, 10, al.gotLimit)

	// Limits are clamped.
	get(t, srv, "/api/alerts/recent?limit=99999")
	assert.Equal(t, maxAlertLimit, al.gotLimit)
}

func TestListPositionsCarriesLatestAlerts(t *testing.T) {
	pos := &fakePositions{all: []domain.Position{
		watchlistPosition(1, "NVDA", domain.StateWatching),
		watchlistPosition(2, "MSFT", domain.StateFullPosition),
	}}
	al := &fakeAlerts{latest: map[string]alerts.Alert{
		"NVDA": {ID: "a1", Symbol: "NVDA", Type: "BREAKOUT", Subtype: "APPROACHING_PIVOT"},
	}}
	srv := newTestServer(t, pos, al, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"NVDA", "MSFT"}, al.gotSymbols)

	var body struct {
		LastAlerts map[string]alerts.Alert `json:"last_alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.LastAlerts, "NVDA")
	assert.Equal(t, "APPROACHING_PIVOT", body.LastAlerts["NVDA"].Subtype)
}

func TestAlertDetail(t *testing.T) {
	snapshot, err := msgpack.Marshal(&domain.PositionContext{
		Symbol:       "NVDA",
		CurrentPrice: 118.4,
		MarketRegime: regime.RegimeBullish,
		PnLPct:       6.2,
	})
	require.NoError(t, err)

	al := &fakeAlerts{byID: map[string]*alerts.Alert{
		"a1": {ID: "a1", Symbol: "NVDA", Type: "POSITION", Subtype: "STOP_WARNING", ContextSnapshot: snapshot},
	}}
	srv := newTestServer(t, &fakePositions{}, al, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/alerts/a1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alert   alerts.Alert            `json:"alert"`
		Context *domain.PositionContext `json:"context"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "STOP_WARNING", body.Alert.Subtype)
	require.NotNil(t, body.Context)
	assert.Equal(t, regime.RegimeBullish, body.Context.MarketRegime)
	assert.InDelta(t, 118.4, body.Context.CurrentPrice, 0.001)
	assert.InDelta(t, 6.2, body.Context.PnLPct, 0.001)

	rec = get(t, srv, "/api/alerts/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertDetailWithoutSnapshot(t *testing.T) {
	al := &fakeAlerts{byID: map[string]*alerts.Alert{
		"a2": {ID: "a2", Symbol: "AMD", Type: "MARKET", Subtype: "REGIME_CHANGE"},
	}}
	srv := newTestServer(t, &fakePositions{}, al, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/alerts/a2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "alert")
	assert.NotContains(t, body, "context")
}

func TestAcknowledgeAlert(t *testing.T) {
	al := &fakeAlerts{byID: map[string]*alerts.Alert{
		"a1": {ID: "a1", Symbol: "NVDA"},
	}}
	srv := newTestServer(t, &fakePositions{}, al, &fakeRegime{}, &fakeSupervisor{})

	rec := post(t, srv, "/api/alerts/a1/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Repeats succeed.
	rec = post(t, srv, "/api/alerts/a1/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1", "a1"}, al.acked)

	rec = post(t, srv, "/api/alerts/missing/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentRegime(t *testing.T) {
	reg := &fakeRegime{
		current: &regime.MarketRegimeAlert{
			Date:           "2025-06-02",
			CompositeScore: 0.85,
			Regime:         "BULLISH",
		},
		dDays: map[string]int{"SPY": 3, "QQQ": 1},
	}
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, reg, &fakeSupervisor{})

	rec := get(t, srv, "/api/regime/current")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		regime.MarketRegimeAlert
		LiveSPYDDays int `json:"live_spy_d_days"`
		LiveQQQDDays int `json:"live_qqq_d_days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "BULLISH", got.Regime)
	assert.InDelta(t, 0.85, got.CompositeScore, 1e-9)
	assert.Equal(t, 3, got.LiveSPYDDays)
	assert.Equal(t, 1, got.LiveQQQDDays)
}

func TestRegimeHistory(t *testing.T) {
	reg := &fakeRegime{history: []regime.MarketRegimeAlert{
		{Date: "2025-06-02", Regime: "BULLISH"},
		{Date: "2025-06-03", Regime: "NEUTRAL"},
	}}
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, reg, &fakeSupervisor{})

	rec := get(t, srv, "/api/regime/history?from=2025-06-01&to=2025-06-30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-06-01", reg.gotFrom)
	assert.Equal(t, "2025-06-30", reg.gotTo)

	var got struct {
		Records []regime.MarketRegimeAlert `json:"records"`
		Count   int                        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "NEUTRAL", got.Records[1].Regime)
}

func TestRegimeHistoryDefaultsAndValidation(t *testing.T) {
	reg := &fakeRegime{}
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, reg, &fakeSupervisor{})

	// No bounds: the handler fills a thirty-day window.
	rec := get(t, srv, "/api/regime/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, reg.gotFrom)
	assert.NotEmpty(t, reg.gotTo)
	assert.Less(t, reg.gotFrom, reg.gotTo)

	rec = get(t, srv, "/api/regime/history?from=junk")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCurrentRegimeEmpty(t *testing.T) {
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/regime/current")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshAll(t *testing.T) {
	sup := &fakeSupervisor{}
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, sup)

	rec := post(t, srv, "/api/control/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sup.refreshedAll)
}

func TestRefreshSingleWorker(t *testing.T) {
	sup := &fakeSupervisor{}
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, sup)

	rec := post(t, srv, "/api/control/refresh", `{"worker":"market"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"market"}, sup.refreshed)

	sup.refreshErr = errors.New("unknown worker: nope")
	rec = post(t, srv, "/api/control/refresh", `{"worker":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	// Use a real supervisor so the snapshot shape is exercised end to end.
	sup := supervisor.New(events.NewBus(zerolog.Nop()), zerolog.Nop())
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, sup)

	rec := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, supervisor.ServiceIdle, got.ServiceState)
	assert.NotNil(t, got.Workers)
	require.NotNil(t, got.Database)
	assert.Positive(t, got.Database.PageSize)
}

func TestPositionsFailure(t *testing.T) {
	pos := &fakePositions{err: errors.New("db closed")}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "failed to list positions")
}

type fakeSignals struct {
	hits []domain.AlertData
	got  *domain.Position
	err  error
}

func (f *fakeSignals) Scan(p *domain.Position) ([]domain.AlertData, error) {
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeOutcomes struct {
	recent   []domain.Outcome
	byClass  map[string]int
	byPos    map[int64]*domain.Outcome
	gotLimit int
	err      error
}

func (f *fakeOutcomes) Recent(limit int) ([]domain.Outcome, error) {
	f.gotLimit = limit
	return f.recent, f.err
}

func (f *fakeOutcomes) CountByClass() (map[string]int, error) {
	return f.byClass, f.err
}

func (f *fakeOutcomes) GetByPositionID(positionID int64) (*domain.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byPos[positionID], nil
}

func newOutcomesServer(t *testing.T, pos *fakePositions, out OutcomeSource) *Server {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)

	return New(Deps{
		Log:        zerolog.Nop(),
		Port:       0,
		DB:         db,
		Positions:  pos,
		Alerts:     &fakeAlerts{},
		Regime:     &fakeRegime{},
		Supervisor: &fakeSupervisor{},
		Outcomes:   out,
		Bus:        events.NewBus(zerolog.Nop()),
	})
}

func TestListOutcomes(t *testing.T) {
	out := &fakeOutcomes{
		recent: []domain.Outcome{
			{Symbol: "NVDA", Outcome: domain.OutcomeSuccess, GrossPct: 31.5},
			{Symbol: "TSLA", Outcome: domain.OutcomeStopped, GrossPct: -7.2},
		},
		byClass: map[string]int{
			domain.OutcomeSuccess: 1,
			domain.OutcomeStopped: 1,
		},
	}
	srv := newOutcomesServer(t, &fakePositions{}, out)

	rec := get(t, srv, "/api/outcomes?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, out.gotLimit)

	var body struct {
		Outcomes []domain.Outcome `json:"outcomes"`
		Count    int              `json:"count"`
		ByClass  map[string]int   `json:"by_class"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Outcomes, 2)
	assert.Equal(t, "NVDA", body.Outcomes[0].Symbol)
	assert.Equal(t, 1, body.ByClass[domain.OutcomeStopped])
}

func TestListOutcomesNotRegisteredWithoutSource(t *testing.T) {
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/outcomes")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionDetailIncludesOutcome(t *testing.T) {
	p := watchlistPosition(4, "AMD", domain.StateClosed)
	pos := &fakePositions{byID: map[int64]*domain.Position{4: &p}}
	out := &fakeOutcomes{byPos: map[int64]*domain.Outcome{
		4: {Symbol: "AMD", PositionID: 4, Outcome: domain.OutcomeFailed, GrossPct: -3.1},
	}}
	srv := newOutcomesServer(t, pos, out)

	rec := get(t, srv, "/api/positions/4")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Outcome *domain.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Outcome)
	assert.Equal(t, domain.OutcomeFailed, body.Outcome.Outcome)
}

func newSignalsServer(t *testing.T, pos *fakePositions, sig SignalSource) *Server {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)

	return New(Deps{
		Log:        zerolog.Nop(),
		Port:       0,
		DB:         db,
		Positions:  pos,
		Alerts:     &fakeAlerts{},
		Regime:     &fakeRegime{},
		Supervisor: &fakeSupervisor{},
		Signals:    sig,
		Bus:        events.NewBus(zerolog.Nop()),
	})
}

func TestPositionSignals(t *testing.T) {
	p := watchlistPosition(7, "NVDA", domain.StateWatching)
	pos := &fakePositions{byID: map[int64]*domain.Position{7: &p}}
	sig := &fakeSignals{hits: []domain.AlertData{{
		Symbol:  "NVDA",
		Type:    domain.AlertTypeBreakout,
		Subtype: domain.SubtypeConfirmed,
		Message: "breakout over 140.00 on 1.8x volume",
		Price:   141.2,
	}}}
	srv := newSignalsServer(t, pos, sig)

	rec := get(t, srv, "/api/positions/7/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sig.got)
	assert.Equal(t, "NVDA", sig.got.Symbol)

	var body struct {
		PositionID int64        `json:"position_id"`
		Symbol     string       `json:"symbol"`
		State      string       `json:"state"`
		Signals    []signalView `json:"signals"`
		Count      int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.PositionID)
	assert.Equal(t, "WATCHING", body.State)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, domain.SubtypeConfirmed, body.Signals[0].Subtype)
	assert.Equal(t, alerts.SeverityInfo, body.Signals[0].Severity)
	assert.InDelta(t, 141.2, body.Signals[0].Price, 1e-9)
}

func TestPositionSignalsQuietPosition(t *testing.T) {
	p := watchlistPosition(7, "NVDA", domain.StateWatching)
	pos := &fakePositions{byID: map[int64]*domain.Position{7: &p}}
	srv := newSignalsServer(t, pos, &fakeSignals{})

	rec := get(t, srv, "/api/positions/7/signals")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestPositionSignalsNoQuote(t *testing.T) {
	p := watchlistPosition(7, "NVDA", domain.StateWatching)
	pos := &fakePositions{byID: map[int64]*domain.Position{7: &p}}
	sig := &fakeSignals{err: fmt.Errorf("NVDA: %w", domain.ErrNoQuote)}
	srv := newSignalsServer(t, pos, sig)

	rec := get(t, srv, "/api/positions/7/signals")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPositionSignalsNotFound(t *testing.T) {
	srv := newSignalsServer(t, &fakePositions{}, &fakeSignals{})

	rec := get(t, srv, "/api/positions/999/signals")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionSignalsRouteRequiresScanner(t *testing.T) {
	// newTestServer wires no scanner, so the route must not exist.
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := get(t, srv, "/api/positions/7/signals")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeSettings struct {
	floats map[string]float64
	err    error
}

func (f *fakeSettings) GetFloat(key string, defaultValue float64) (float64, error) {
	if f.err != nil {
		return defaultValue, f.err
	}
	if v, ok := f.floats[key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func (f *fakeSettings) List() ([]settings.View, error) { return nil, f.err }
func (f *fakeSettings) Update(string, string) error    { return f.err }
func (f *fakeSettings) Clear(string) error             { return f.err }

func newScoringServer(t *testing.T, src SettingsSource, pos PositionSource) *Server {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)

	return New(Deps{
		Log:        zerolog.Nop(),
		Port:       0,
		DB:         db,
		Positions:  pos,
		Alerts:     &fakeAlerts{},
		Regime:     &fakeRegime{},
		Supervisor: &fakeSupervisor{},
		Scorer:     scoring.New(scoring.DefaultConfig()),
		Settings:   src,
		Bus:        events.NewBus(zerolog.Nop()),
	})
}

func TestScoringPreview(t *testing.T) {
	srv := newScoringServer(t, &fakeSettings{floats: map[string]float64{"portfolio_value": 100000}}, &fakePositions{})

	rec := post(t, srv, "/api/scoring/preview", `{
		"symbol": "NVDA", "rs_rating": 95, "pattern": "cup with handle",
		"base_stage": "1", "base_depth_pct": 12, "base_length_weeks": 8,
		"pivot": 140, "avg_daily_volume": 1200000
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Scoring struct {
			Score float64 `json:"score"`
			Grade string  `json:"grade"`
		} `json:"scoring"`
		Feasibility struct {
			AllocationPct   float64 `json:"allocation_pct"`
			PositionDollars float64 `json:"position_dollars"`
			Risk            string  `json:"risk"`
		} `json:"feasibility"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// 6 base + 5 elite RS + 10 cup with handle + 1 tight depth + 1 long base.
	assert.InDelta(t, 23, resp.Scoring.Score, 1e-9)
	assert.Equal(t, "A+", resp.Scoring.Grade)
	assert.InDelta(t, 0.50, resp.Feasibility.AllocationPct, 1e-9)
	assert.InDelta(t, 50000, resp.Feasibility.PositionDollars, 1e-9)
	assert.Equal(t, "LOW", resp.Feasibility.Risk)
}

func TestScoringPreviewWithoutPivot(t *testing.T) {
	srv := newScoringServer(t, &fakeSettings{}, &fakePositions{})

	rec := post(t, srv, "/api/scoring/preview", `{"symbol": "NVDA", "rs_rating": 80}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "scoring")
	assert.NotContains(t, resp, "feasibility")
}

func TestScoringPreviewRequiresSymbol(t *testing.T) {
	srv := newScoringServer(t, &fakeSettings{}, &fakePositions{})

	rec := post(t, srv, "/api/scoring/preview", `{"rs_rating": 80}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoringPreviewByPositionID(t *testing.T) {
	pos := &fakePositions{byID: map[int64]*domain.Position{
		42: {
			ID: 42, Symbol: "NVDA", RSRating: 95, Pattern: "cup with handle",
			BaseStage: "1", BaseDepth: 12, BaseLength: 8,
			Pivot: 140, AvgVolume50D: 1200000,
		},
	}}
	srv := newScoringServer(t, &fakeSettings{floats: map[string]float64{"portfolio_value": 100000}}, pos)

	// Stored attributes, pivot, and 50-day volume stand in for the body.
	rec := post(t, srv, "/api/scoring/preview", `{"position_id": 42}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Scoring struct {
			Score float64 `json:"score"`
			Grade string  `json:"grade"`
		} `json:"scoring"`
		Feasibility struct {
			AllocationPct float64 `json:"allocation_pct"`
			Risk          string  `json:"risk"`
		} `json:"feasibility"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 23, resp.Scoring.Score, 1e-9)
	assert.Equal(t, "A+", resp.Scoring.Grade)
	assert.InDelta(t, 0.50, resp.Feasibility.AllocationPct, 1e-9)
	assert.Equal(t, "LOW", resp.Feasibility.Risk)
}

func TestScoringPreviewUnknownPosition(t *testing.T) {
	srv := newScoringServer(t, &fakeSettings{}, &fakePositions{byID: map[int64]*domain.Position{}})

	rec := post(t, srv, "/api/scoring/preview", `{"position_id": 7}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// newSettingsServer wires the real settings service over a test database
// so the routes exercise validation end to end.
func newSettingsServer(t *testing.T) (*Server, *settings.Repository) {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)
	require.NoError(t, settings.InitSchema(db.Conn()))
	repo := settings.NewRepository(db.Conn(), zerolog.Nop())

	srv := New(Deps{
		Log:        zerolog.Nop(),
		Port:       0,
		DB:         db,
		Positions:  &fakePositions{},
		Alerts:     &fakeAlerts{},
		Regime:     &fakeRegime{},
		Supervisor: &fakeSupervisor{},
		Settings:   settings.NewService(repo, nil, zerolog.Nop()),
		Bus:        events.NewBus(zerolog.Nop()),
	})
	return srv, repo
}

func TestListSettings(t *testing.T) {
	srv, repo := newSettingsServer(t)
	require.NoError(t, repo.SetFloat("portfolio_value", 250000))

	rec := get(t, srv, "/api/settings")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Settings []settings.View `json:"settings"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, len(settings.Known), body.Count)

	var found bool
	for _, v := range body.Settings {
		if v.Key == "portfolio_value" {
			found = true
			require.NotNil(t, v.Value)
			assert.Equal(t, settings.KindFloat, v.Kind)
		}
	}
	assert.True(t, found)
}

func TestUpdateSetting(t *testing.T) {
	srv, repo := newSettingsServer(t)

	// JSON numbers and strings both land as the key's kind.
	rec := put(t, srv, "/api/settings/portfolio_value", `{"value": 250000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "250000", body["portfolio_value"])

	v, err := repo.GetFloat("portfolio_value", 0)
	require.NoError(t, err)
	assert.InDelta(t, 250000, v, 1e-9)

	rec = put(t, srv, "/api/settings/watch_expiry_days", `{"value": "30"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	days, err := repo.GetInt("watch_expiry_days", 0)
	require.NoError(t, err)
	assert.Equal(t, 30, days)
}

func TestUpdateSettingRejectsBadInput(t *testing.T) {
	srv, _ := newSettingsServer(t)

	rec := put(t, srv, "/api/settings/no_such_key", `{"value": "1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown setting")

	rec = put(t, srv, "/api/settings/portfolio_value", `{"value": "lots"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(t, srv, "/api/settings/portfolio_value", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "value is required")
}

func TestClearSetting(t *testing.T) {
	srv, repo := newSettingsServer(t)
	require.NoError(t, repo.SetInt("watch_expiry_days", 30))

	rec := del(t, srv, "/api/settings/watch_expiry_days")
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := repo.Get("watch_expiry_days")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// Clearing a key with no override still succeeds.
	rec = del(t, srv, "/api/settings/watch_expiry_days")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// newPositionsServer wires the real positions repository over a test
// database so the write routes exercise the state machine end to end.
func newPositionsServer(t *testing.T) (*Server, *positions.Repository) {
	t.Helper()
	db, cleanup := helpers.NewTestDB(t, "server")
	t.Cleanup(cleanup)
	require.NoError(t, positions.InitSchema(db.Conn()))
	repo := positions.NewRepository(db.Conn(), zerolog.Nop())

	srv := New(Deps{
		Log:            zerolog.Nop(),
		Port:           0,
		DB:             db,
		Positions:      repo,
		PositionWrites: repo,
		Alerts:         &fakeAlerts{},
		Regime:         &fakeRegime{},
		Supervisor:     &fakeSupervisor{},
		Bus:            events.NewBus(zerolog.Nop()),
	})
	return srv, repo
}

// createWatch posts a watchlist entry and returns its id.
func createWatch(t *testing.T, srv *Server, body string) int64 {
	t.Helper()
	rec := post(t, srv, "/api/positions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Position domain.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Position.ID
}

func TestCreateWatchlistRoute(t *testing.T) {
	srv, _ := newPositionsServer(t)

	rec := post(t, srv, "/api/positions", `{"symbol": " nvda ", "pivot": 140, "pattern": "cup with handle", "portfolio": "growth"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Position domain.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NVDA", resp.Position.Symbol)
	assert.Equal(t, domain.StateWatching, resp.Position.State)
	assert.InDelta(t, 140, resp.Position.Pivot, 1e-9)
	assert.InDelta(t, 140, resp.Position.OriginalPivot, 1e-9)
	assert.NotNil(t, resp.Position.PivotSetDate)

	rec = post(t, srv, "/api/positions", `{"pivot": 140}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionLifecycleRoutes(t *testing.T) {
	srv, _ := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "PLTR", "pivot": 100}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	var resp struct {
		Position domain.Position `json:"position"`
	}

	// First tranche enters and derives the default stop below cost.
	rec := post(t, srv, path+"/entries", `{"tranche": 1, "shares": 10, "price": 102}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateEntered, resp.Position.State)
	assert.InDelta(t, 10, resp.Position.TotalShares, 1e-9)
	assert.InDelta(t, 102, resp.Position.AvgCost, 1e-9)
	assert.InDelta(t, 102*0.93, resp.Position.StopPrice, 1e-6)

	rec = post(t, srv, path+"/sales", `{"level": 1, "shares": 5, "price": 120}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateTookProfit1, resp.Position.State)

	rec = post(t, srv, path+"/exit", `{"price": 118, "reason": "trailing stop"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateWatchingExited, resp.Position.State)
	assert.InDelta(t, 118, resp.Position.ExitPrice, 1e-9)
	assert.Zero(t, resp.Position.E1Shares)
	assert.NotNil(t, resp.Position.WatchingExitedSince)

	rec = post(t, srv, path+"/rewatch", `{"pivot": 125}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateWatching, resp.Position.State)
	assert.InDelta(t, 125, resp.Position.Pivot, 1e-9)
	assert.Nil(t, resp.Position.WatchingExitedSince)

	// A watchlist entry closes without a trade.
	rec = post(t, srv, path+"/close", `{}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateClosed, resp.Position.State)
}

func TestReenterRoute(t *testing.T) {
	srv, _ := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "AVGO", "pivot": 170}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	rec := post(t, srv, path+"/entries", `{"tranche": 1, "shares": 10, "price": 172}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = post(t, srv, path+"/exit", `{"price": 160, "reason": "stop loss"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = post(t, srv, path+"/reenter", `{"shares": 8, "price": 180}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Position domain.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.StateEntered, resp.Position.State)
	assert.InDelta(t, 8, resp.Position.E1Shares, 1e-9)
	assert.InDelta(t, 180*0.93, resp.Position.StopPrice, 1e-6)
}

func TestPositionWriteValidation(t *testing.T) {
	srv, _ := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "TSLA", "pivot": 250}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	rec := post(t, srv, path+"/entries", `{"tranche": 9, "shares": 10, "price": 102}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, srv, path+"/entries", `{"tranche": 1, "shares": -1, "price": 102}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Profit sales are illegal straight off the watchlist.
	rec = post(t, srv, path+"/sales", `{"level": 1, "shares": 5, "price": 120}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(t, srv, "/api/positions/9999/entries", `{"tranche": 1, "shares": 10, "price": 102}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A re-entry resolution needs a fresh pivot.
	rec = post(t, srv, path+"/rewatch", `{"pivot": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditPositionRoute(t *testing.T) {
	srv, repo := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "AMD", "pivot": 150}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	rec := put(t, srv, path, `{"rs_rating": 95, "pattern": "flat base"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 95, p.RSRating)
	assert.Equal(t, "flat base", p.Pattern)

	rec = put(t, srv, path, `{"state": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lifecycle routes")

	rec = put(t, srv, path, `{"bogus_field": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(t, srv, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPivotRoute(t *testing.T) {
	srv, repo := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "NOW", "pivot": 600}`)
	path := fmt.Sprintf("/api/positions/%d/pivot", id)

	rec := put(t, srv, path, `{"pivot": 615}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := repo.GetByID(id)
	require.NoError(t, err)
	assert.InDelta(t, 615, p.Pivot, 1e-9)

	rec = put(t, srv, path, `{"pivot": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeletePositionRoute(t *testing.T) {
	srv, _ := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "COIN", "pivot": 300}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	rec := del(t, srv, path)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, path)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Deleting again still succeeds.
	rec = del(t, srv, path)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPositionWriteRoutesRequireWriter(t *testing.T) {
	// newTestServer wires no writer, so the write routes must not exist.
	srv := newTestServer(t, &fakePositions{}, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	rec := post(t, srv, "/api/positions", `{"symbol": "NVDA"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = post(t, srv, "/api/positions/1/entries", `{"tranche": 1, "shares": 1, "price": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionTimeline(t *testing.T) {
	srv, _ := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "CRWD", "pivot": 400}`)
	path := fmt.Sprintf("/api/positions/%d", id)

	rec := post(t, srv, path+"/entries", `{"tranche": 1, "shares": 5, "price": 405}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = get(t, srv, path+"/timeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Timeline []positions.HistoricalSnapshot `json:"timeline"`
		Count    int                            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.GreaterOrEqual(t, resp.Count, 2)
	assert.Equal(t, domain.SourceCurrent, resp.Timeline[0].Source)
	assert.Equal(t, domain.StateEntered, resp.Timeline[0].Position.State)

	rec = get(t, srv, "/api/positions/9999/timeline")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionSnapshotsRoute(t *testing.T) {
	srv, repo := newPositionsServer(t)
	id := createWatch(t, srv, `{"symbol": "ANET", "pivot": 90}`)

	p, err := repo.GetByID(id)
	require.NoError(t, err)
	require.NoError(t, repo.WriteSnapshot(p, time.Date(2026, 2, 10, 21, 0, 0, 0, time.UTC)))

	rec := get(t, srv, fmt.Sprintf("/api/positions/%d/snapshots", id))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Snapshots []positions.Snapshot `json:"snapshots"`
		Count     int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "2026-02-10", resp.Snapshots[0].Date)

	rec = get(t, srv, "/api/positions/9999/snapshots")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPositionFilters(t *testing.T) {
	pos := &fakePositions{
		all: []domain.Position{
			watchlistPosition(1, "NVDA", domain.StateWatching),
			watchlistPosition(2, "MSFT", domain.StateFullPosition),
		},
	}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	var resp struct {
		Positions []domain.Position `json:"positions"`
		Count     int               `json:"count"`
	}

	rec := get(t, srv, "/api/positions?state=open")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "MSFT", resp.Positions[0].Symbol)

	rec = get(t, srv, "/api/positions?symbol=NVDA")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "NVDA", resp.Positions[0].Symbol)

	rec = get(t, srv, "/api/positions?symbol=UNKNOWN")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestPositionHistoryFilters(t *testing.T) {
	p := watchlistPosition(7, "AMD", domain.StateEntered)
	now := time.Now()
	pos := &fakePositions{
		byID: map[int64]*domain.Position{7: &p},
		history: map[int64][]domain.PositionHistory{
			7: {
				{PositionID: 7, FieldName: "state", NewValue: "1", ChangedAt: now},
				{PositionID: 7, FieldName: "stop_price", NewValue: "95.5", ChangedAt: now.Add(-2 * time.Hour)},
			},
		},
	}
	srv := newTestServer(t, pos, &fakeAlerts{}, &fakeRegime{}, &fakeSupervisor{})

	var body struct {
		History []domain.PositionHistory `json:"history"`
		Count   int                      `json:"count"`
	}

	rec := get(t, srv, "/api/positions/7/history?field=stop_price")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "stop_price", body.History[0].FieldName)

	since := now.Add(-time.Hour).Format(time.RFC3339)
	rec = get(t, srv, "/api/positions/7/history?since="+since)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "state", body.History[0].FieldName)

	rec = get(t, srv, "/api/positions/7/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
