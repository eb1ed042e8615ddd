package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	t.Setenv("BACKUP_S3_BUCKET", "")
	t.Setenv("STRESS_SCENARIOS_PATH", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestWire(t *testing.T) {
	cfg := loadTestConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Len(t, container.Databases(), 3)
	assert.NotNil(t, container.OverviewService)
	assert.NotNil(t, container.BatchOrchestrator)
	assert.NotEmpty(t, container.ScenarioLibrary.List())
	assert.Nil(t, container.BackupService)
	assert.Nil(t, jobs.Backup)

	for _, db := range container.Databases() {
		assert.NoError(t, db.HealthCheck(context.Background()), db.Name())
	}
}

func TestWire_EmptyBatchRun(t *testing.T) {
	cfg := loadTestConfig(t)

	container, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	summary, err := container.BatchOrchestrator.Run(context.Background(), time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, summary.Portfolios)
}

func TestRegisterJobs(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Batch.CleanupSchedule = ""

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	s := scheduler.New(zerolog.Nop())
	require.NoError(t, RegisterJobs(s, jobs, cfg))

	_, ok := s.Next(jobs.Batch.Name())
	assert.True(t, ok)
	_, ok = s.Next(jobs.Maintenance.Name())
	assert.True(t, ok)
	_, ok = s.Next(jobs.SnapshotCleanup.Name())
	assert.False(t, ok, "empty schedule leaves the job unscheduled")
}
