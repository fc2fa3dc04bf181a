package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/alphapulse/internal/database"
)

const (
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0
)

// diskUsageFunc reports free bytes for the filesystem holding path.
type diskUsageFunc func(path string) (uint64, error)

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// MaintenanceJob keeps the price cache healthy: integrity check, WAL
// truncation and a free disk space check.
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	timeout time.Duration
	usage   diskUsageFunc
	log     zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job for db, checking disk space under dataDir.
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		timeout: 5 * time.Minute,
		usage:   freeBytes,
		log:     log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Str("database", j.db.Name()).Msg("Integrity check failed")
		return err
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// Not fatal: the next checkpoint catches up.
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	free, err := j.usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}

	availableGB := float64(free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	switch {
	case availableGB < criticalFreeGB:
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free under %s", availableGB, j.dataDir)
	case availableGB < lowFreeGB:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}

	return nil
}

// BackupJob uploads a fresh backup and rotates old ones
type BackupJob struct {
	service *BackupService
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates a backup job
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		timeout: 30 * time.Minute,
		log:     log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}

	if _, err := j.service.RotateOldBackups(ctx); err != nil {
		// The new backup is already stored.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
