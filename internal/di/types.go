// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/alphapulse/internal/clients/yahoo"
	"github.com/aristath/alphapulse/internal/database"
	"github.com/aristath/alphapulse/internal/modules/analysis"
	analysishandlers "github.com/aristath/alphapulse/internal/modules/analysis/handlers"
	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
	"github.com/aristath/alphapulse/internal/reliability"
	"github.com/aristath/alphapulse/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire and is the single source of truth for service instances.
type Container struct {
	// Databases
	HistoryDB *database.DB

	// Clients and repositories
	YahooClient  *yahoo.Client
	HistoryCache *marketdata.HistoryDB

	// Services
	PriceProvider   *marketdata.CachedProvider
	Simulator       *montecarlo.Simulator
	Registry        *analysis.Registry
	AnalysisService *analysis.Service
	AnalysisHandler *analysishandlers.Handler
	BackupService   *reliability.BackupService // nil when no backup bucket is configured

	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	PriceRefresh *scheduler.PriceRefreshJob // nil when PRICE_REFRESH_SCHEDULE is empty
	Maintenance  *reliability.MaintenanceJob
	Backup       *reliability.BackupJob // nil when backups are disabled
}

// Close releases the container's resources.
func (c *Container) Close() error {
	if c.HistoryDB == nil {
		return nil
	}
	return c.HistoryDB.Close()
}
