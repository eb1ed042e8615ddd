package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/riskboard/internal/batch"
	"github.com/rs/zerolog"
)

// BatchRunner runs the daily pipeline
type BatchRunner interface {
	Run(ctx context.Context, date time.Time) (*batch.RunSummary, error)
}

// BatchJob runs the daily pipeline for today's date
type BatchJob struct {
	runner BatchRunner
	log    zerolog.Logger
	now    func() time.Time
}

// NewBatchJob creates the daily batch job
func NewBatchJob(runner BatchRunner, log zerolog.Logger) *BatchJob {
	return &BatchJob{
		runner: runner,
		log:    log.With().Str("job", "daily_batch").Logger(),
		now:    time.Now,
	}
}

// Name returns the job name
func (j *BatchJob) Name() string {
	return "daily_batch"
}

// Run executes the batch. Failed portfolios are reported by the summary, not as a job error.
func (j *BatchJob) Run(ctx context.Context) error {
	summary, err := j.runner.Run(ctx, j.now())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		j.log.Warn().
			Str("run_id", summary.RunID).
			Int("failed", summary.Failed).
			Msg("Batch finished with failed portfolios")
	}
	return nil
}

// SequenceJob runs several jobs one after another under one schedule.
// Every job runs even if an earlier one fails.
type SequenceJob struct {
	name string
	jobs []Job
	log  zerolog.Logger
}

// NewSequenceJob creates a composite job
func NewSequenceJob(name string, log zerolog.Logger, jobs ...Job) *SequenceJob {
	return &SequenceJob{
		name: name,
		jobs: jobs,
		log:  log.With().Str("job", name).Logger(),
	}
}

// Name returns the job name
func (j *SequenceJob) Name() string {
	return j.name
}

// Run executes every job in order
func (j *SequenceJob) Run(ctx context.Context) error {
	var errs []error
	for _, job := range j.jobs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := job.Run(ctx); err != nil {
			j.log.Error().Err(err).Str("step", job.Name()).Msg("Step failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
