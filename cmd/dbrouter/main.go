package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	timeout    int
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:           "dbrouter",
		Short:         "dbrouter - SQL routing for gorm",
		Long:          `dbrouter routes statements to database nodes by cluster, read/write split, hints and transactions`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./dbrouter.yaml)")
	cmd.PersistentFlags().IntVar(&timeout, "timeout", 5, "Heartbeat timeout in seconds")

	cmd.AddCommand(routeCmd())
	cmd.AddCommand(checkCmd())
	cmd.AddCommand(hintCmd())
	return cmd
}
