package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/alphapulse/internal/clients/yahoo"
	"github.com/aristath/alphapulse/internal/config"
	"github.com/aristath/alphapulse/internal/modules/analysis"
	analysishandlers "github.com/aristath/alphapulse/internal/modules/analysis/handlers"
	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
	"github.com/aristath/alphapulse/internal/reliability"
)

// InitializeServices creates clients, repositories and services on top of the databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.YahooClient = yahoo.NewClient(log)
	container.HistoryCache = marketdata.NewHistoryDB(container.HistoryDB.Conn(), log)
	container.PriceProvider = marketdata.NewCachedProvider(
		container.YahooClient,
		container.HistoryCache,
		cfg.PriceCacheTTL,
		log,
	)

	container.Simulator = montecarlo.NewSimulator(log)
	container.Registry = analysis.NewRegistry(cfg.RetainRuns)
	container.AnalysisService = analysis.NewService(
		container.PriceProvider,
		container.Simulator,
		container.Registry,
		cfg.AnalysisDefaults(),
		log,
	)
	container.AnalysisHandler = analysishandlers.NewHandler(container.AnalysisService, cfg.RequestTimeout, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}

		container.BackupService = reliability.NewBackupService(
			store,
			cfg.BackupStagingDir(),
			cfg.Backup.RetentionDays,
			log,
			container.HistoryDB,
		)
	}

	return nil
}
