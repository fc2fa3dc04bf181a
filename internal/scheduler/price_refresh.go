package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PriceRefresher re-downloads every cached ticker.
type PriceRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// PriceRefreshJob keeps the price cache current after market close
type PriceRefreshJob struct {
	refresher PriceRefresher
	timeout   time.Duration
	log       zerolog.Logger
}

// NewPriceRefreshJob creates a new PriceRefreshJob
func NewPriceRefreshJob(refresher PriceRefresher, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		refresher: refresher,
		timeout:   15 * time.Minute,
		log:       log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name returns the job name
func (j *PriceRefreshJob) Name() string {
	return "price_refresh"
}

// Run executes the price refresh job
func (j *PriceRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	refreshed, err := j.refresher.Refresh(ctx)
	if err != nil {
		j.log.Warn().Err(err).Int("refreshed", refreshed).Msg("Price refresh incomplete")
		return err
	}

	j.log.Info().Int("refreshed", refreshed).Msg("Price cache refreshed")
	return nil
}
