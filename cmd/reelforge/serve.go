package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reelforge HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := server.New(server.Deps{
				Config:     a.cfg,
				Ledger:     a.ledger,
				Jobs:       a.jobs,
				Gate:       a.gate,
				Submitter:  a.submitter,
				Reconciler: a.reconciler,
				Store:      a.store,
				Journal:    a.journal,
				Metrics:    a.metrics,
				Gatherer:   a.registry,
				Logger:     a.logger,
			})

			a.logger.Info("starting reelforge",
				zap.String("config", *configPath),
				zap.String("version", version),
				zap.String("storage", a.cfg.Storage.Driver),
				zap.Float64("budget_limit", a.cfg.Budget.Limit))
			return srv.ListenAndServe(ctx)
		},
	}
}
