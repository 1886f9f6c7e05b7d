package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
)

const (
	defaultCooldownMinutes = 30
	deliveryTimeout        = 10 * time.Second
)

// CooldownSettings supplies the per-family suppression windows. The
// settings repository satisfies this.
type CooldownSettings interface {
	GetInt(key string, defaultValue int) (int, error)
}

// Service is the emission path for alerts: validate, derive severity,
// apply the cooldown policy, persist, then hand off to the notifier. The
// row is committed before any delivery attempt.
type Service struct {
	repo     *Repository
	settings CooldownSettings
	bus      *events.Bus
	notifier domain.Notifier
	log      zerolog.Logger
}

// NewService creates the alert service. Bus and notifier may be nil; the
// service then only persists.
func NewService(repo *Repository, settings CooldownSettings, bus *events.Bus, notifier domain.Notifier, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		settings: settings,
		bus:      bus,
		notifier: notifier,
		log:      log.With().Str("component", "alert_service").Logger(),
	}
}

// Severity resolves a (type, subtype) pair against the catalog.
func (s *Service) Severity(alertType, subtype string) string {
	return Severity(alertType, subtype)
}

// CooldownWindow returns the suppression window for an alert family:
// alert_cooldown_<family>_minutes when set, otherwise the global
// alert_cooldown_minutes, otherwise 30 minutes.
func (s *Service) CooldownWindow(alertType string) time.Duration {
	minutes := defaultCooldownMinutes
	if s.settings != nil {
		if global, err := s.settings.GetInt("alert_cooldown_minutes", defaultCooldownMinutes); err == nil {
			minutes = global
		}
		key := "alert_cooldown_" + strings.ToLower(alertType) + "_minutes"
		if family, err := s.settings.GetInt(key, minutes); err == nil {
			minutes = family
		}
	}
	return time.Duration(minutes) * time.Minute
}

// IsInCooldown answers the repository-backed cooldown check for a
// (symbol, type, subtype) triple.
func (s *Service) IsInCooldown(symbol, alertType, subtype string) (bool, error) {
	return s.repo.IsInCooldown(symbol, alertType, subtype, s.CooldownWindow(alertType))
}

// Emit runs the full emission path for one checker result. A suppressed
// emission returns (nil, nil): cooldown hits are normal operation, not
// errors. The returned alert is the persisted record.
func (s *Service) Emit(data domain.AlertData) (*Alert, error) {
	if data.Symbol == "" || data.Type == "" || data.Subtype == "" {
		return nil, fmt.Errorf("alert needs symbol, type and subtype (got %q/%q/%q)",
			data.Symbol, data.Type, data.Subtype)
	}

	inCooldown, err := s.IsInCooldown(data.Symbol, data.Type, data.Subtype)
	if err != nil {
		return nil, err
	}
	if inCooldown {
		s.log.Debug().
			Str("symbol", data.Symbol).
			Str("type", data.Type).
			Str("subtype", data.Subtype).
			Msg("Alert suppressed by cooldown")
		return nil, nil
	}

	alert := s.buildAlert(data)
	if err := s.repo.Create(alert); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("id", alert.ID).
		Str("symbol", alert.Symbol).
		Str("type", alert.Type).
		Str("subtype", alert.Subtype).
		Str("severity", alert.Severity).
		Float64("price", alert.Price).
		Msg("Alert emitted")

	if s.bus != nil {
		s.bus.EmitData("alerts", &events.AlertCreatedData{
			AlertID:  alert.ID,
			Symbol:   alert.Symbol,
			Type:     alert.Type,
			Subtype:  alert.Subtype,
			Severity: alert.Severity,
			Message:  alert.Message,
			Price:    alert.Price,
		})
	}

	if s.notifier != nil {
		go s.deliver(*alert)
	}

	return alert, nil
}

// buildAlert assembles the persisted record from checker output, copying
// the context snapshot fields and encoding the full context.
func (s *Service) buildAlert(data domain.AlertData) *Alert {
	alert := &Alert{
		ID:        uuid.New().String(),
		Symbol:    data.Symbol,
		Type:      data.Type,
		Subtype:   data.Subtype,
		Severity:  Severity(data.Type, data.Subtype),
		Message:   data.Message,
		Price:     data.Price,
		AlertTime: time.Now(),
	}
	if data.PositionID > 0 {
		id := data.PositionID
		alert.PositionID = &id
	}

	if ctx := data.Context; ctx != nil {
		pivot, avgCost, pnl := ctx.Pivot, ctx.AvgCost, ctx.PnLPct
		alert.PivotAtAlert = &pivot
		alert.AvgCostAtAlert = &avgCost
		alert.PnLPctAtAlert = &pnl
		alert.VolumeRatio = ctx.VolumeRatio
		alert.MA21 = ctx.MA21
		alert.MA50 = ctx.MA50
		alert.Grade = ctx.Grade
		alert.Score = ctx.Score
		alert.MarketRegime = ctx.MarketRegime
		alert.StateAtAlert = float64(ctx.State)

		if encoded, err := msgpack.Marshal(ctx); err == nil {
			alert.ContextSnapshot = encoded
		} else {
			s.log.Warn().Err(err).Str("symbol", data.Symbol).Msg("Failed to encode context snapshot")
		}
	}

	return alert
}

// deliver pushes one alert through the notifier and records the receipt.
// Reports whether the notifier accepted the payload.
func (s *Service) deliver(alert Alert) bool {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	n := domain.Notification{
		Title:     fmt.Sprintf("%s/%s %s", alert.Type, alert.Subtype, alert.Symbol),
		Message:   alert.Message,
		Severity:  alert.Severity,
		Symbol:    alert.Symbol,
		AlertType: alert.Type,
		Subtype:   alert.Subtype,
		Price:     alert.Price,
		Time:      alert.AlertTime,
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Error().Err(err).
			Str("id", alert.ID).
			Str("notifier", s.notifier.Name()).
			Msg("Alert delivery failed")
		if s.bus != nil {
			s.bus.EmitData("alerts", &events.AlertDeliveryFailedData{
				AlertID: alert.ID,
				Error:   err.Error(),
			})
		}
		return false
	}

	if err := s.repo.MarkSent(alert.ID, s.notifier.Name()); err != nil {
		s.log.Error().Err(err).Str("id", alert.ID).Msg("Failed to record delivery receipt")
	}
	if s.bus != nil {
		s.bus.EmitData("alerts", &events.AlertDeliveredData{
			AlertID: alert.ID,
			Channel: s.notifier.Name(),
		})
	}
	return true
}

// RedeliverUnsent retries alerts that have no delivery receipt, oldest
// first. One attempt each, in order; a dead webhook fails fast rather than
// spinning. Returns the number the notifier accepted.
func (s *Service) RedeliverUnsent(limit int) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}

	unsent, err := s.repo.GetUnsent(limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, a := range unsent {
		if s.deliver(a) {
			delivered++
		}
	}

	if len(unsent) > 0 {
		s.log.Info().
			Int("attempted", len(unsent)).
			Int("delivered", delivered).
			Msg("Redelivery sweep finished")
	}
	return delivered, nil
}

// DecodeContext unpacks the msgpack context snapshot from an alert row.
func DecodeContext(a *Alert) (*domain.PositionContext, error) {
	if len(a.ContextSnapshot) == 0 {
		return nil, nil
	}
	var ctx domain.PositionContext
	if err := msgpack.Unmarshal(a.ContextSnapshot, &ctx); err != nil {
		return nil, fmt.Errorf("failed to decode context snapshot: %w", err)
	}
	return &ctx, nil
}

// Acknowledge flips the acknowledged flag on an alert. Idempotent.
func (s *Service) Acknowledge(id string) error {
	return s.repo.Acknowledge(id)
}

// Get returns one alert by id, or nil when it does not exist.
func (s *Service) Get(id string) (*Alert, error) {
	return s.repo.GetByID(id)
}

// LatestForPosition returns the newest alert for a position, or nil.
func (s *Service) LatestForPosition(positionID int64) (*Alert, error) {
	return s.repo.GetLatestForPosition(positionID)
}

// LatestForSymbols returns each symbol's newest alert.
func (s *Service) LatestForSymbols(symbols []string) (map[string]Alert, error) {
	return s.repo.GetLatestForSymbols(symbols)
}

// Recent returns the newest alerts across all symbols.
func (s *Service) Recent(limit int) ([]Alert, error) {
	return s.repo.GetRecent(limit)
}
