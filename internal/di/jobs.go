package di

import (
	"fmt"

	"github.com/aristath/riskboard/internal/clientdata"
	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/modules/history"
	"github.com/aristath/riskboard/internal/modules/snapshots"
	"github.com/aristath/riskboard/internal/reliability"
	"github.com/aristath/riskboard/internal/scheduler"
	"github.com/rs/zerolog"
)

// JobInstances exposes the scheduled jobs for manual triggering
type JobInstances struct {
	Batch           *scheduler.BatchJob
	SnapshotCleanup *snapshots.CleanupJob
	CacheCleanup    *clientdata.CleanupJob
	PriceRetention  *history.RetentionJob
	DatabaseHealth  *reliability.DatabaseMaintenanceJob
	Maintenance     *scheduler.SequenceJob
	Backup          *reliability.BackupJob // nil when backups are not configured
}

// BuildJobs creates every job over the container's services
func BuildJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	dbs := make([]reliability.MaintainedDatabase, 0, 3)
	for _, db := range container.Databases() {
		dbs = append(dbs, db)
	}

	jobs := &JobInstances{
		Batch:           scheduler.NewBatchJob(container.BatchOrchestrator, log),
		SnapshotCleanup: snapshots.NewCleanupJob(container.SnapshotRepo, cfg.Batch.ClaimGrace, log),
		CacheCleanup:    clientdata.NewCleanupJob(container.CacheRepo, log),
		PriceRetention:  history.NewRetentionJob(container.PriceRepo, cfg.Batch.PriceRetention, log),
		DatabaseHealth:  reliability.NewDatabaseMaintenanceJob(dbs, cfg.DataDir, log),
	}
	jobs.Maintenance = scheduler.NewSequenceJob("maintenance", log,
		jobs.CacheCleanup,
		jobs.PriceRetention,
		jobs.DatabaseHealth,
	)

	if container.BackupService != nil {
		jobs.Backup = reliability.NewBackupJob(container.BackupService, log)
	}

	return jobs, nil
}

// RegisterJobs schedules the jobs. An empty schedule leaves a job manual-only.
func RegisterJobs(s *scheduler.Scheduler, jobs *JobInstances, cfg *config.Config) error {
	entries := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Batch.Schedule, jobs.Batch},
		{cfg.Batch.CleanupSchedule, jobs.SnapshotCleanup},
		{cfg.Batch.MaintenanceSchedule, jobs.Maintenance},
	}
	if jobs.Backup != nil {
		entries = append(entries, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Backup.Schedule, jobs.Backup})
	}

	for _, e := range entries {
		if err := s.AddJob(e.schedule, e.job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", e.job.Name(), err)
		}
	}
	return nil
}
