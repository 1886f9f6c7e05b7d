// Package server provides the HTTP surface: position reads and lifecycle
// writes, alert history, the current regime, runtime tunables, and service
// status. Reads dominate; the write routes record what the operator already
// did at the broker (watchlist entries, buy tranches, sales, exits) plus
// the refresh trigger, the idempotent alert-acknowledge flip, and settings
// writes through the validated settings service. The daemon itself never
// trades.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/positions"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/scoring"
	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/aristath/slimwatch/internal/supervisor"
)

// PositionSource is the slice of the positions repository the API reads.
type PositionSource interface {
	GetAll() ([]domain.Position, error)
	GetByState(state domain.PositionState) ([]domain.Position, error)
	GetOpen() ([]domain.Position, error)
	GetByID(id int64) (*domain.Position, error)
	GetBySymbol(symbol string) (*domain.Position, error)
	GetHistory(positionID int64, limit int) ([]domain.PositionHistory, error)
	GetHistoryForField(positionID int64, field string, limit int) ([]domain.PositionHistory, error)
	GetHistorySince(positionID int64, since time.Time) ([]domain.PositionHistory, error)
	ReconstructSnapshots(positionID int64) ([]positions.HistoricalSnapshot, error)
	GetSnapshots(positionID int64, limit int) ([]positions.Snapshot, error)
}

// PositionWriter is the slice of the positions repository the API mutates.
// Every route is a bookkeeping write: the operator traded at the broker
// and records it here so monitoring reflects reality.
type PositionWriter interface {
	CreateWatchlist(symbol string, pivot float64, pattern, portfolio string) (*domain.Position, error)
	Update(id int64, fields map[string]interface{}, source string) (*domain.Position, error)
	SetPivot(id int64, pivot float64, source string) (*domain.Position, error)
	LogEntry(id int64, tranche int, shares, price float64, date time.Time) (*domain.Position, error)
	LogSale(id int64, level int, sold, price float64, date time.Time) (*domain.Position, error)
	Close(id int64, exitPrice float64, reason string, date time.Time) (*domain.Position, error)
	TransitionToWatchingExited(id int64, exitPrice float64, reason string) (*domain.Position, error)
	ReturnToWatchlist(id int64, newPivot float64) (*domain.Position, error)
	ReenterFromWatchingExited(id int64, shares, price, stopPrice float64, date time.Time) (*domain.Position, error)
	Delete(id int64) error
}

// AlertSource is the slice of the alert service the API reads, plus the
// acknowledge flip it forwards.
type AlertSource interface {
	Recent(limit int) ([]alerts.Alert, error)
	Get(id string) (*alerts.Alert, error)
	LatestForPosition(positionID int64) (*alerts.Alert, error)
	LatestForSymbols(symbols []string) (map[string]alerts.Alert, error)
	Acknowledge(id string) error
}

// RegimeSource serves the market regime rows and the live
// distribution-day tally. The regime service satisfies it.
type RegimeSource interface {
	Current() (*regime.MarketRegimeAlert, error)
	History(from, to string) ([]regime.MarketRegimeAlert, error)
	ActiveDDayCount(symbol string) (int, error)
}

// StatusSource reports service status and accepts refresh commands. The
// supervisor satisfies it.
type StatusSource interface {
	Status() supervisor.Status
	RefreshAll()
	RefreshWorker(name string) error
}

// SettingsSource serves the runtime tunables and accepts validated
// writes. The settings service satisfies it.
type SettingsSource interface {
	GetFloat(key string, defaultValue float64) (float64, error)
	List() ([]settings.View, error)
	Update(key, value string) error
	Clear(key string) error
}

// SignalSource evaluates the live rule state for one position without
// consuming cooldowns or persisting anything. The workers' signal
// scanner satisfies it.
type SignalSource interface {
	Scan(p *domain.Position) ([]domain.AlertData, error)
}

// OutcomeSource serves the recorded trade outcomes the weight learner
// trains on. The outcomes repository satisfies it.
type OutcomeSource interface {
	Recent(limit int) ([]domain.Outcome, error)
	CountByClass() (map[string]int, error)
	GetByPositionID(positionID int64) (*domain.Outcome, error)
}

// Deps carries everything the server needs.
type Deps struct {
	Log            zerolog.Logger
	Port           int
	DB             *database.DB
	Positions      PositionSource
	PositionWrites PositionWriter
	Alerts         AlertSource
	Regime         RegimeSource
	Supervisor     StatusSource
	Scorer         *scoring.Scorer
	Settings       SettingsSource
	Signals        SignalSource
	Outcomes       OutcomeSource
	Bus            *events.Bus
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	db         *database.DB
	positions  PositionSource
	posWriter  PositionWriter
	alerts     AlertSource
	regime     RegimeSource
	supervisor StatusSource
	scorer     *scoring.Scorer
	settings   SettingsSource
	signals    SignalSource
	outcomes   OutcomeSource
	bus        *events.Bus
}

// New creates the server and wires its routes.
func New(deps Deps) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        deps.Log.With().Str("component", "server").Logger(),
		db:         deps.DB,
		positions:  deps.Positions,
		posWriter:  deps.PositionWrites,
		alerts:     deps.Alerts,
		regime:     deps.Regime,
		supervisor: deps.Supervisor,
		scorer:     deps.Scorer,
		settings:   deps.Settings,
		signals:    deps.Signals,
		outcomes:   deps.Outcomes,
		bus:        deps.Bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", deps.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Event stream first so nothing shadows it.
		if s.bus != nil {
			stream := NewEventsStreamHandler(s.bus, s.log)
			r.Get("/events/stream", stream.ServeHTTP)
		}

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/positions", func(r chi.Router) {
			r.Get("/", s.handleListPositions)
			r.Get("/{id}", s.handleGetPosition)
			r.Get("/{id}/history", s.handlePositionHistory)
			r.Get("/{id}/timeline", s.handlePositionTimeline)
			r.Get("/{id}/snapshots", s.handlePositionSnapshots)
			if s.signals != nil {
				r.Get("/{id}/signals", s.handlePositionSignals)
			}
			if s.posWriter != nil {
				r.Post("/", s.handleCreateWatchlist)
				r.Put("/{id}", s.handleEditPosition)
				r.Delete("/{id}", s.handleDeletePosition)
				r.Put("/{id}/pivot", s.handleSetPivot)
				r.Post("/{id}/entries", s.handleLogEntry)
				r.Post("/{id}/sales", s.handleLogSale)
				r.Post("/{id}/exit", s.handleExitToWatch)
				r.Post("/{id}/close", s.handleClosePosition)
				r.Post("/{id}/rewatch", s.handleReturnToWatchlist)
				r.Post("/{id}/reenter", s.handleReenter)
			}
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/recent", s.handleRecentAlerts)
			r.Get("/{id}", s.handleAlertDetail)
			r.Post("/{id}/ack", s.handleAcknowledgeAlert)
		})

		r.Get("/regime/current", s.handleCurrentRegime)
		r.Get("/regime/history", s.handleRegimeHistory)

		if s.outcomes != nil {
			r.Get("/outcomes", s.handleListOutcomes)
		}

		if s.settings != nil {
			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleListSettings)
				r.Put("/{key}", s.handleUpdateSetting)
				r.Delete("/{key}", s.handleClearSetting)
			})
		}

		if s.scorer != nil {
			r.Post("/scoring/preview", s.handleScoringPreview)
		}

		r.Post("/control/refresh", s.handleRefresh)
	})
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server. It blocks until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON encodes data as the response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError sends a JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
