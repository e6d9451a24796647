package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var configPath string
	root := &cobra.Command{
		Use:           "reelforge",
		Short:         "Reelforge: budget-gated video generation service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "reelforge.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newBudgetCmd(&configPath),
		newCostCmd(&configPath),
		newJobCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
