package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintained struct {
	name        string
	healthErr   error
	walErr      error
	checkpoints []string
}

func (f *fakeMaintained) Name() string { return f.name }

func (f *fakeMaintained) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeMaintained) WALCheckpoint(mode string) error {
	f.checkpoints = append(f.checkpoints, mode)
	return f.walErr
}

func newMaintenanceJob(free uint64, dbs ...MaintainedDatabase) *DatabaseMaintenanceJob {
	j := NewDatabaseMaintenanceJob(dbs, "/data", zerolog.Nop())
	j.usage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: free, UsedPercent: 50}, nil
	}
	return j
}

func TestDatabaseMaintenanceJob_Run(t *testing.T) {
	portfolio := &fakeMaintained{name: "portfolio"}
	cache := &fakeMaintained{name: "cache", walErr: errors.New("database is locked")}
	j := newMaintenanceJob(20<<30, portfolio, cache)

	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, []string{"TRUNCATE"}, portfolio.checkpoints)
	assert.Equal(t, []string{"TRUNCATE"}, cache.checkpoints)
}

func TestDatabaseMaintenanceJob_HealthFailureSkipsCheckpoint(t *testing.T) {
	broken := &fakeMaintained{name: "history", healthErr: errors.New("integrity check failed")}
	j := newMaintenanceJob(20<<30, broken)

	err := j.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, broken.checkpoints)
}

func TestDatabaseMaintenanceJob_DiskSpace(t *testing.T) {
	j := newMaintenanceJob(100<<20, &fakeMaintained{name: "portfolio"})
	assert.ErrorIs(t, j.Run(context.Background()), ErrDiskSpaceCritical)

	low := newMaintenanceJob(2<<30, &fakeMaintained{name: "portfolio"})
	assert.NoError(t, low.Run(context.Background()))
}
