package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yieldera/datahub/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and export workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		// Jobs queued before a restart are picked up on boot.
		if n, err := env.Jobs.Requeue(ctx); err != nil {
			zap.L().Warn("requeue on boot failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Info("requeued jobs from previous run", zap.Int("count", n))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(env.Extractor, env.Cache, env.Jobs)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Jobs.Start(ctx) })
		g.Go(func() error { return srv.Run(ctx, fmt.Sprintf(":%d", port)) })

		err = g.Wait()
		if ctx.Err() != nil {
			// Clean shutdown on signal.
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
