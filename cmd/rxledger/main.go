package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rxledger",
		Short:         "Prescription signing, anchoring and dispensation service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ./config.yml or ./config/config.yml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(ledgerCheckCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(eventsCmd())
	return rootCmd
}
