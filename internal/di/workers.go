package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/slimwatch/internal/checkers"
	"github.com/aristath/slimwatch/internal/config"
	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/aristath/slimwatch/internal/supervisor"
	"github.com/aristath/slimwatch/internal/workers"
)

// advisorySuppressTTL spaces repeat emissions of a rule that stays true
// across cycles. The repository cooldown remains authoritative; this only
// saves the emission path the round trip.
const advisorySuppressTTL = 5 * time.Minute

// InitializeWorkers builds the regime cell, the context builder, the
// shared quote subscription set, the checker suites, and registers the
// three loop factories with the supervisor. Registration order is start
// order: the market worker goes first so the cell holds a regime before
// the scanners read it.
func InitializeWorkers(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.AlertService == nil {
		return fmt.Errorf("services must be initialized first")
	}

	container.Cell = workers.NewRegimeCell()
	container.Builder = workers.NewContextBuilder(container.Quotes, container.Bars, container.Calendar, log)
	subs := workers.NewSubscriptionSet(container.Quotes, log)

	checkerCfg, err := checkerConfig(container.SettingsRepo)
	if err != nil {
		return fmt.Errorf("failed to load checker configuration: %w", err)
	}

	heldSuite := checkers.NewSuite(log, advisorySuppressTTL,
		checkers.NewStopChecker(checkerCfg),
		checkers.NewProfitChecker(checkerCfg),
		checkers.NewPyramidChecker(checkerCfg),
		checkers.NewMAChecker(checkerCfg),
		checkers.NewHealthChecker(checkerCfg),
	)
	reentrySuite := checkers.NewSuite(log, advisorySuppressTTL,
		checkers.NewAltEntryChecker(checkerCfg),
	)
	breakoutSuite := checkers.NewSuite(log, advisorySuppressTTL,
		checkers.NewBreakoutChecker(checkerCfg),
		checkers.NewAltEntryChecker(checkerCfg),
	)

	container.Signals = workers.NewSignalScanner(
		container.Builder, container.Cell,
		breakoutSuite, heldSuite, reentrySuite,
		log,
	)

	marketInterval, err := workerInterval(container.SettingsRepo, "market_check_interval_seconds")
	if err != nil {
		return err
	}
	positionInterval, err := workerInterval(container.SettingsRepo, "position_check_interval_seconds")
	if err != nil {
		return err
	}
	breakoutInterval, err := workerInterval(container.SettingsRepo, "breakout_check_interval_seconds")
	if err != nil {
		return err
	}

	container.Supervisor = supervisor.New(container.Bus, log)

	container.Supervisor.Register(func() workers.Worker {
		return workers.NewMarketWorker(workers.MarketDeps{
			Bars:      container.Bars,
			Quotes:    container.Quotes,
			Sentiment: container.Sentiment,
			Regime:    container.RegimeService,
			Alerts:    container.AlertService,
			Cell:      container.Cell,
			Subs:      subs,
			Calendar:  container.Calendar,
			Bus:       container.Bus,
			Interval:  marketInterval,
		}, log)
	})

	container.Supervisor.Register(func() workers.Worker {
		return workers.NewPositionWorker(workers.PositionDeps{
			Positions: container.PositionsRepo,
			Builder:   container.Builder,
			Held:      heldSuite,
			Reentry:   reentrySuite,
			Alerts:    container.AlertService,
			Cell:      container.Cell,
			Subs:      subs,
			Calendar:  container.Calendar,
			Bus:       container.Bus,
			Interval:  positionInterval,
		}, log)
	})

	container.Supervisor.Register(func() workers.Worker {
		return workers.NewBreakoutWorker(workers.BreakoutDeps{
			Watchlist: container.PositionsRepo,
			Builder:   container.Builder,
			Suite:     breakoutSuite,
			Alerts:    container.AlertService,
			Cell:      container.Cell,
			Subs:      subs,
			Calendar:  container.Calendar,
			Bus:       container.Bus,
			Interval:  breakoutInterval,
		}, log)
	})

	return nil
}

// checkerConfig overlays the settings-managed thresholds onto the stock
// rule set. Only the earnings proximity windows are runtime-tunable; the
// rest ship as defaults.
func checkerConfig(repo *settings.Repository) (checkers.Config, error) {
	cfg := checkers.DefaultConfig()

	critical, err := repo.GetInt("earnings_critical_days", cfg.EarningsCriticalDays)
	if err != nil {
		return cfg, err
	}
	cfg.EarningsCriticalDays = critical

	caution, err := repo.GetInt("earnings_caution_days", cfg.EarningsCautionDays)
	if err != nil {
		return cfg, err
	}
	cfg.EarningsCautionDays = caution

	return cfg, nil
}

// workerInterval reads a cadence override in seconds; zero means the
// worker's compiled default.
func workerInterval(repo *settings.Repository, key string) (time.Duration, error) {
	secs, err := repo.GetInt(key, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
