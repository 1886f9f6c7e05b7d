package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/calendar"
	"github.com/aristath/slimwatch/internal/clients/feargreed"
	"github.com/aristath/slimwatch/internal/clients/ibgw"
	"github.com/aristath/slimwatch/internal/clients/marketdata"
	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/domain"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/outcomes"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/scoring"
	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/aristath/slimwatch/internal/notify"
)

// InitializeServices creates the external clients and domain services.
// Configuration problems surface here as errors: a malformed scoring
// table or an unreadable settings row fails the boot, never a cycle.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.SettingsRepo == nil {
		return fmt.Errorf("repositories must be initialized first")
	}

	gatewayURL := fmt.Sprintf("ws://%s:%d/stream", cfg.IBKR.Host, cfg.IBKR.Port)
	container.Quotes = ibgw.NewClient(gatewayURL, cfg.IBKR.ClientID, log)

	barOpts := []marketdata.Option{
		marketdata.WithTimeout(cfg.MarketData.Timeout),
		marketdata.WithPacingDelay(cfg.MarketData.PacingDelay),
	}
	if cfg.MarketData.APIKey != "" {
		barOpts = append(barOpts, marketdata.WithAPIKey(cfg.MarketData.APIKey))
	}
	container.Bars = marketdata.NewClient(cfg.MarketData.BaseURL, log, barOpts...)

	// The market-data service doubles as the market-status feed; the
	// calendar falls back to its deterministic tables when the feed fails.
	container.Calendar = calendar.NewWithFeed(container.Bars, log)

	container.Sentiment = feargreed.NewClient(cfg.Sentiment.BaseURL, log)

	scorer, err := buildScorer(container.SettingsRepo, container.OutcomesRepo, log)
	if err != nil {
		return err
	}
	container.Scorer = scorer
	registerScoringRefresh(container.Bus, scorer, log)

	container.AlertService = alerts.NewService(
		container.AlertsRepo,
		container.SettingsRepo,
		container.Bus,
		buildNotifier(cfg, log),
		log,
	)

	container.SettingsService = settings.NewService(container.SettingsRepo, container.Bus, log)

	calcCfg, err := regimeCalcConfig(container.SettingsRepo)
	if err != nil {
		return fmt.Errorf("failed to load regime configuration: %w", err)
	}
	container.RegimeService = regime.NewService(
		container.RegimeRepo,
		regime.NewCalculator(calcCfg),
		container.Bus,
		log,
	)
	container.RegimeSeeder = regime.NewSeeder(
		container.RegimeService,
		container.Bars,
		container.Sentiment,
		log,
	)

	container.OutcomeRecorder = outcomes.NewRecorder(container.OutcomesRepo, container.PositionsRepo, log)
	container.OutcomeRecorder.Register(container.Bus)

	return nil
}

// registerScoringRefresh swaps the scorer's rule table when the
// scoring_config setting changes at runtime. A cleared override returns
// the shipped default; a table that fails validation leaves the active
// one in place.
func registerScoringRefresh(bus *events.Bus, scorer *scoring.Scorer, log zerolog.Logger) {
	bus.Subscribe(events.SettingsChanged, func(e *events.Event) {
		data, ok := e.GetTypedData().(*events.SettingsChangedData)
		if !ok || data == nil || data.Key != "scoring_config" {
			return
		}

		cfg := scoring.DefaultConfig()
		if data.Value != "" {
			loaded, err := scoring.Load([]byte(data.Value))
			if err != nil {
				log.Warn().Err(err).Msg("Rejected scoring config update")
				return
			}
			cfg = loaded
		}
		if err := scorer.ReplaceConfig(cfg); err != nil {
			log.Warn().Err(err).Msg("Rejected scoring config update")
			return
		}
		log.Info().Str("version", cfg.Version).Msg("Scoring config replaced")
	})
}

// buildScorer loads the active rule table (settings override or shipped
// default) and applies published learned weights.
func buildScorer(settingsRepo *settings.Repository, outcomesRepo *outcomes.Repository, log zerolog.Logger) (*scoring.Scorer, error) {
	scoringCfg := scoring.DefaultConfig()
	raw, err := settingsRepo.GetString("scoring_config", "")
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring_config: %w", err)
	}
	if raw != "" {
		scoringCfg, err = scoring.Load([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to load scoring config from settings: %w", err)
		}
	}

	scorer := scoring.New(scoringCfg)

	version, weights, err := outcomesRepo.ActiveWeights()
	if err != nil {
		return nil, fmt.Errorf("failed to load learned weights: %w", err)
	}
	if version != "" {
		scorer.SetLearnedWeights(weights)
		log.Info().Str("version", version).Int("factors", len(weights)).Msg("Learned weights applied")
	}

	return scorer, nil
}

// buildNotifier returns the Discord delivery path, or nil when no webhook
// is configured (the alert service then only persists).
func buildNotifier(cfg *config.Config, log zerolog.Logger) domain.Notifier {
	if cfg.Discord.AlertsWebhook == "" && cfg.Discord.MarketWebhook == "" {
		log.Warn().Msg("No Discord webhooks configured, alerts will not be delivered")
		return nil
	}

	alertsChannel := notify.NewDiscord(cfg.Discord.AlertsWebhook, log)
	var marketChannel domain.Notifier
	if cfg.Discord.MarketWebhook != "" {
		marketChannel = notify.NewDiscord(cfg.Discord.MarketWebhook, log)
	}
	return notify.NewRouter(alertsChannel, marketChannel)
}

// regimeCalcConfig overlays the distribution-day and bucketing tunables
// from the settings table onto the shipped rule set.
func regimeCalcConfig(repo *settings.Repository) (regime.CalcConfig, error) {
	cfg := regime.DefaultCalcConfig()

	decline, err := repo.GetFloat("dday_decline_threshold_pct", cfg.DDay.DeclineThresholdPct)
	if err != nil {
		return cfg, err
	}
	cfg.DDay.DeclineThresholdPct = decline

	volumeIncreasePct, err := repo.GetFloat("dday_min_volume_increase_pct", (cfg.DDay.MinVolumeRatio-1)*100)
	if err != nil {
		return cfg, err
	}
	cfg.DDay.MinVolumeRatio = 1 + volumeIncreasePct/100

	decimals, err := repo.GetInt("dday_rounding_decimals", cfg.DDay.RoundingDecimals)
	if err != nil {
		return cfg, err
	}
	cfg.DDay.RoundingDecimals = decimals

	stalling, err := repo.GetBool("dday_enable_stalling", cfg.DDay.EnableStalling)
	if err != nil {
		return cfg, err
	}
	cfg.DDay.EnableStalling = stalling

	bullish, err := repo.GetFloat("regime_bullish_floor", cfg.BullishFloor)
	if err != nil {
		return cfg, err
	}
	cfg.BullishFloor = bullish

	neutral, err := repo.GetFloat("regime_neutral_floor", cfg.NeutralFloor)
	if err != nil {
		return cfg, err
	}
	cfg.NeutralFloor = neutral

	fearGreedEnabled, err := repo.GetBool("regime_fear_greed_enabled", true)
	if err != nil {
		return cfg, err
	}
	if !fearGreedEnabled {
		cfg.Weights.FearGreed = 0
	}

	return cfg, nil
}
