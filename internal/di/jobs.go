package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/alphapulse/internal/config"
	"github.com/aristath/alphapulse/internal/reliability"
	"github.com/aristath/alphapulse/internal/scheduler"
)

// maintenanceSchedule runs integrity and disk checks at 02:00 daily.
const maintenanceSchedule = "0 0 2 * * *"

// RegisterJobs creates the background jobs and registers them with a new scheduler
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(log)
	jobs := &JobInstances{}

	if cfg.PriceRefreshSchedule != "" {
		jobs.PriceRefresh = scheduler.NewPriceRefreshJob(container.PriceProvider, log)
		if err := sched.AddJob(cfg.PriceRefreshSchedule, jobs.PriceRefresh); err != nil {
			return nil, fmt.Errorf("failed to register price refresh job: %w", err)
		}
	}

	jobs.Maintenance = reliability.NewMaintenanceJob(container.HistoryDB, cfg.DataDir, log)
	if err := sched.AddJob(maintenanceSchedule, jobs.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, log)
		if err := sched.AddJob(cfg.Backup.Schedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	container.Scheduler = sched
	return jobs, nil
}
