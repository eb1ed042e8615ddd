package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/di"
	"github.com/spf13/cobra"
)

var snapshotGrace time.Duration

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Manage daily snapshots",
}

var snapshotsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete snapshot claims that were never completed",
	Long: `Delete incomplete snapshot rows claimed longer ago than the grace period, so
the batch can claim those portfolio-days again.

Examples:
  riskctl snapshots cleanup
  riskctl snapshots cleanup --grace 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, _ *di.Container, jobs *di.JobInstances) error {
			if snapshotGrace <= 0 {
				return jobs.SnapshotCleanup.Run(ctx)
			}
			n, err := jobs.SnapshotCleanup.RunWithGrace(ctx, snapshotGrace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d stale claims\n", n)
			return nil
		})
	},
}

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run cache cleanup, price retention and database health checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, _ *di.Container, jobs *di.JobInstances) error {
			return jobs.Maintenance.Run(ctx)
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a database backup and rotate old ones",
	Long: `Snapshot every database, upload the archive to the configured S3 bucket and
delete backups older than BACKUP_RETENTION_DAYS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, _ *di.Container, jobs *di.JobInstances) error {
			if jobs.Backup == nil {
				return errors.New("backups are not configured, set BACKUP_S3_BUCKET")
			}
			return jobs.Backup.Run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd, maintenanceCmd, backupCmd)
	snapshotsCmd.AddCommand(snapshotsCleanupCmd)

	snapshotsCleanupCmd.Flags().DurationVar(&snapshotGrace, "grace", 0, "Override SNAPSHOT_CLAIM_GRACE")
}
