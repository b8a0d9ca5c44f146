package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/lifecycle"
	"github.com/abduss/reelrelay/internal/objectstore"
	"github.com/abduss/reelrelay/internal/quota"
	"github.com/abduss/reelrelay/internal/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			version, err := storage.Migrate(cfg.Postgres)
			if err != nil {
				return err
			}
			printf(cmd, "schema at version %d\n", version)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete every upload past its retention deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if batchSize > 0 {
				cfg.Reaper.BatchSize = batchSize
			}

			ctx := cmd.Context()
			pool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			objects, err := openObjectStore(ctx, cfg.ObjectStore)
			if err != nil {
				return err
			}

			manager := lifecycle.NewManager(lifecycle.NewRepository(pool), objects, cfg.Upload.Retention, cfg.Reaper.BatchSize, log)
			result, err := manager.Sweep(ctx)
			printSweep(cmd, result)
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records fetched per query (default REAPER_BATCH_SIZE)")
	return cmd
}

func printSweep(cmd *cobra.Command, result lifecycle.SweepResult) {
	printf(cmd, "deleted: %d\nfailed:  %d\n", result.Deleted, result.Failed)
	if len(result.Errors) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILENAME\tERROR")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "%s\t%s\n", e.Filename, e.Error)
	}
	_ = w.Flush()
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota <user-id>",
		Short: "Show a user's quota usage and limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			pool, err := storage.NewPostgresPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			ledger := quota.NewLedger(quota.NewRepository(pool), quota.LimitsFromConfig(cfg.Quota))
			decision, err := ledger.Check(cmd.Context(), userID, 0)
			if err != nil {
				return err
			}
			printQuota(cmd, decision)
			return nil
		},
	}
}

func printQuota(cmd *cobra.Command, d quota.Decision) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tUPLOADS\tBYTES")
	fmt.Fprintf(w, "daily\t%d/%d\t%d/%d\n", d.Current.DailyUploads, d.Limits.MaxDailyUploads, d.Current.DailyBytes, d.Limits.MaxDailyBytes)
	fmt.Fprintf(w, "monthly\t%d/%d\t%d/%d\n", d.Current.MonthlyUploads, d.Limits.MaxMonthlyUploads, d.Current.MonthlyBytes, d.Limits.MaxMonthlyBytes)
	_ = w.Flush()
	if !d.Allowed {
		printf(cmd, "blocked: %s\n", d.Reason.Message())
	}
}

func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	if cfg.Backend == config.BackendS3 {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return objectstore.NewS3(client, cfg.S3.Bucket), nil
	}
	client, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	return objectstore.NewMinIO(client, cfg.MinIO.Bucket), nil
}

