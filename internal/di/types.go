// Package di wires the application graph. The Container is the single
// source of truth for live instances; Wire builds it in dependency order
// and tears the partial graph down again when a step fails.
package di

import (
	"github.com/aristath/slimwatch/internal/calendar"
	"github.com/aristath/slimwatch/internal/clients/feargreed"
	"github.com/aristath/slimwatch/internal/clients/ibgw"
	"github.com/aristath/slimwatch/internal/clients/marketdata"
	"github.com/aristath/slimwatch/internal/cronjobs"
	"github.com/aristath/slimwatch/internal/database"
	"github.com/aristath/slimwatch/internal/events"
	"github.com/aristath/slimwatch/internal/modules/alerts"
	"github.com/aristath/slimwatch/internal/modules/outcomes"
	"github.com/aristath/slimwatch/internal/modules/positions"
	"github.com/aristath/slimwatch/internal/modules/regime"
	"github.com/aristath/slimwatch/internal/modules/scoring"
	"github.com/aristath/slimwatch/internal/modules/settings"
	"github.com/aristath/slimwatch/internal/reliability"
	"github.com/aristath/slimwatch/internal/server"
	"github.com/aristath/slimwatch/internal/supervisor"
	"github.com/aristath/slimwatch/internal/workers"
)

// Container holds every long-lived instance the service runs on. It is
// created by Wire and handed to main, which owns the lifecycle order:
// supervisor and scheduler start after wiring, and Close runs last.
type Container struct {
	// Storage. One SQLite database; repositories share its pool.
	DB *database.DB

	// Event bus. Created first so repositories can publish on it.
	Bus *events.Bus

	// External clients
	Quotes    *ibgw.Client       // realtime quote stream
	Bars      *marketdata.Client // paced historical bars
	Sentiment *feargreed.Client  // fear-and-greed feed

	// Repositories
	SettingsRepo  *settings.Repository
	PositionsRepo *positions.Repository
	AlertsRepo    *alerts.Repository
	RegimeRepo    *regime.Repository
	OutcomesRepo  *outcomes.Repository

	// Domain services
	Calendar        *calendar.Calendar
	Scorer          *scoring.Scorer
	AlertService    *alerts.Service
	SettingsService *settings.Service
	RegimeService   *regime.Service
	RegimeSeeder    *regime.Seeder
	OutcomeRecorder *outcomes.Recorder

	// Worker plumbing shared across the three loops
	Cell    *workers.RegimeCell
	Builder *workers.ContextBuilder
	Signals *workers.SignalScanner

	// Lifecycle components
	Supervisor *supervisor.Supervisor
	Scheduler  *cronjobs.Scheduler
	Backups    *reliability.BackupService // nil when backups are not configured
	Server     *server.Server
}

// Close releases everything Wire opened, in reverse dependency order.
// Callers stop the supervisor, scheduler, and HTTP server first; Close
// only handles clients and storage.
func (c *Container) Close() {
	if c.Quotes != nil {
		c.Quotes.Stop()
	}
	if c.Bars != nil {
		c.Bars.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
