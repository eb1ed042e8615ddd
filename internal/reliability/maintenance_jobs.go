package reliability

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// MaintainedDatabase is the subset of database.DB the maintenance job needs
type MaintainedDatabase interface {
	Name() string
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// ErrDiskSpaceCritical is returned when the data directory is nearly full
var ErrDiskSpaceCritical = errors.New("insufficient disk space")

const (
	criticalFreeBytes = 500 << 20
	lowFreeBytes      = 5 << 30
)

// DatabaseMaintenanceJob checks database integrity, truncates WAL files and watches disk space
type DatabaseMaintenanceJob struct {
	databases []MaintainedDatabase
	dataDir   string
	log       zerolog.Logger
	usage     func(ctx context.Context, path string) (*disk.UsageStat, error)
}

// NewDatabaseMaintenanceJob creates the maintenance job
func NewDatabaseMaintenanceJob(databases []MaintainedDatabase, dataDir string, log zerolog.Logger) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "database_maintenance").Logger(),
		usage:     disk.UsageWithContext,
	}
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance steps. A failed health check or critically low disk space
// is returned; a failed WAL checkpoint is only logged.
func (j *DatabaseMaintenanceJob) Run(ctx context.Context) error {
	var errs []error
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			errs = append(errs, err)
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	if err := j.checkDiskSpace(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *DatabaseMaintenanceJob) checkDiskSpace(ctx context.Context) error {
	stat, err := j.usage(ctx, j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	freeGB := float64(stat.Free) / 1e9
	switch {
	case stat.Free < criticalFreeBytes:
		j.log.Error().Float64("free_gb", freeGB).Msg("Disk space critical")
		return fmt.Errorf("%w: %.2f GB free in %s", ErrDiskSpaceCritical, freeGB, j.dataDir)
	case stat.Free < lowFreeBytes:
		j.log.Warn().Float64("free_gb", freeGB).Float64("used_percent", stat.UsedPercent).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check")
	}
	return nil
}
