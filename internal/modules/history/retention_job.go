package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetentionJob deletes closes older than the retention window.
// The window must exceed the longest regression lookback.
type RetentionJob struct {
	repo      *PriceRepository
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewRetentionJob creates a price retention job
func NewRetentionJob(repo *PriceRepository, retention time.Duration, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:      repo,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "price_retention").Logger(),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "price_retention"
}

// Run executes the retention job
func (j *RetentionJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("price retention failed: %w", err)
	}
	j.log.Info().
		Int64("deleted", deleted).
		Str("cutoff", cutoff.Format("2006-01-02")).
		Msg("Price retention completed")
	return nil
}
