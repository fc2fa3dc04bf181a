package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/alphapulse/internal/config"
	"github.com/aristath/alphapulse/internal/database"
)

// InitializeDatabases opens the price cache database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// history.db - downloaded daily prices; everything in it can be fetched again
	historyDB, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath(),
		Profile: database.ProfileCache,
		Name:    "history",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}

	if err := historyDB.Migrate(); err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	container.HistoryDB = historyDB

	log.Info().Str("path", historyDB.Path()).Msg("History database initialized")
	return container, nil
}
