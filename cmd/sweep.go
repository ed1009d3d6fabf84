package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepRetentionHours int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass: expired cache entries, stalled jobs, aged artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		expired, err := env.Cache.Sweep(ctx)
		if err != nil {
			return err
		}

		stalled, err := env.Jobs.FailStalled(ctx)
		if err != nil {
			return err
		}

		retention := time.Duration(sweepRetentionHours) * time.Hour
		if sweepRetentionHours == 0 {
			retention = time.Duration(cfg.Jobs.RetentionHours) * time.Hour
		}
		cleaned, err := env.Jobs.Cleanup(ctx, retention)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete",
			zap.Int("cache_expired", expired),
			zap.Int("jobs_stalled", stalled),
			zap.Int("jobs_cleaned", cleaned),
		)
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepRetentionHours, "retention-hours", 0, "job retention window (overrides config)")
	rootCmd.AddCommand(sweepCmd)
}
