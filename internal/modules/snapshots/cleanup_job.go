package snapshots

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob removes snapshot claims that never completed within the grace period
type CleanupJob struct {
	repo  *Repository
	grace time.Duration
	log   zerolog.Logger
	now   func() time.Time
}

// NewCleanupJob creates the stale-claim cleanup job
func NewCleanupJob(repo *Repository, grace time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:  repo,
		grace: grace,
		log:   log.With().Str("job", "snapshot_claim_cleanup").Logger(),
		now:   time.Now,
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "snapshot_claim_cleanup"
}

// Run deletes stale incomplete claims
func (j *CleanupJob) Run(ctx context.Context) error {
	_, err := j.RunWithGrace(ctx, j.grace)
	return err
}

// RunWithGrace deletes incomplete claims older than grace and returns how many went
func (j *CleanupJob) RunWithGrace(ctx context.Context, grace time.Duration) (int64, error) {
	n, err := j.repo.DeleteStaleIncomplete(ctx, j.now().Add(-grace))
	if err != nil {
		j.log.Error().Err(err).Msg("Stale claim cleanup failed")
		return 0, err
	}
	if n > 0 {
		j.log.Warn().Int64("deleted", n).Dur("grace", grace).Msg("Deleted stale snapshot claims")
	}
	return n, nil
}
