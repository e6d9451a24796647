package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve budget, cost and job tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := mcp.New(mcp.Deps{
				Budget:     a.evaluator,
				Costs:      a.ledger,
				Jobs:       a.jobs,
				Reconciler: a.reconciler,
				Expiry:     a.cfg.Jobs.Expiry,
				Logger:     a.logger,
				Version:    version,
			})
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
