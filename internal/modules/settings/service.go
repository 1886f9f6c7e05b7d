package settings

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/events"
)

var (
	// ErrUnknownSetting rejects writes to keys nothing reads.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidValue rejects values the key's readers could not parse.
	ErrInvalidValue = errors.New("invalid setting value")
)

// View is one row of the settings listing: the definition plus the
// stored override when one exists.
type View struct {
	Key         string  `json:"key"`
	Kind        Kind    `json:"kind"`
	Description string  `json:"description,omitempty"`
	Value       *string `json:"value,omitempty"`
}

// Service is the validated write surface over the repository. Readers
// elsewhere in the codebase go straight to the repository; the service
// exists for the HTTP settings routes, which must reject unknown keys
// and unparseable values before anything reaches the table.
type Service struct {
	repo *Repository
	bus  *events.Bus
	log  zerolog.Logger
}

// NewService creates the service. bus may be nil; writes then do not
// publish.
func NewService(repo *Repository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		bus:  bus,
		log:  log.With().Str("component", "settings_service").Logger(),
	}
}

// GetFloat passes through to the repository.
func (s *Service) GetFloat(key string, defaultValue float64) (float64, error) {
	return s.repo.GetFloat(key, defaultValue)
}

// List returns every known setting with its stored override, followed by
// any table rows whose keys nothing reads (stale or misspelled
// overrides), sorted by key.
func (s *Service) List() ([]View, error) {
	stored, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(Known))
	known := make(map[string]bool, len(Known))
	for _, def := range Known {
		v := View{Key: def.Key, Kind: def.Kind, Description: def.Description}
		if raw, ok := stored[def.Key]; ok {
			value := raw
			v.Value = &value
		}
		known[def.Key] = true
		views = append(views, v)
	}

	var orphans []string
	for key := range stored {
		if !known[key] {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	for _, key := range orphans {
		value := stored[key]
		views = append(views, View{Key: key, Kind: KindString, Value: &value})
	}
	return views, nil
}

// Update validates one override against the key's kind and stores it in
// the canonical form for that kind. Integers tolerate a trailing ".0"
// the way GetInt does.
func (s *Service) Update(key, value string) error {
	def, ok := Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	switch def.Kind {
	case KindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s wants a number, got %q", ErrInvalidValue, key, value)
		}
		if err := s.repo.SetFloat(key, f); err != nil {
			return err
		}
	case KindInt:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f != math.Trunc(f) {
			return fmt.Errorf("%w: %s wants an integer, got %q", ErrInvalidValue, key, value)
		}
		if err := s.repo.SetInt(key, int(f)); err != nil {
			return err
		}
	case KindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s wants true or false, got %q", ErrInvalidValue, key, value)
		}
		if err := s.repo.SetBool(key, b); err != nil {
			return err
		}
	default:
		if err := s.repo.Set(key, value, &def.Description); err != nil {
			return err
		}
	}

	s.log.Info().Str("key", key).Str("value", value).Msg("Setting updated")
	s.emit(key, value)
	return nil
}

// Clear removes an override so the compiled default applies again.
// Unknown and orphaned keys clear the same way; a missing row is not an
// error.
func (s *Service) Clear(key string) error {
	if err := s.repo.Delete(key); err != nil {
		return err
	}
	s.log.Info().Str("key", key).Msg("Setting cleared")
	s.emit(key, "")
	return nil
}

func (s *Service) emit(key, value string) {
	if s.bus == nil {
		return
	}
	s.bus.EmitData("settings", &events.SettingsChangedData{Key: key, Value: value})
}
