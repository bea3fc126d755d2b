package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/internal/ledger"
)

func ledgerCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger-check",
		Short: "Walk the anchor ledger and verify every block links to its predecessor",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			network := ""
			if path == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path, network = cfg.Ledger.Path, cfg.Ledger.Network
			}
			if path == "" {
				return fmt.Errorf("no ledger path: set ledger.path or pass --path")
			}

			l, err := ledger.Open(path, network)
			if err != nil {
				return err
			}
			defer l.Close()

			n, err := l.Verify()
			if err != nil {
				return fmt.Errorf("ledger check failed after %d blocks: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ledger OK: %d blocks, height %d\n", n, n-1)
			return nil
		},
	}
	cmd.Flags().String("path", "", "ledger directory (defaults to ledger.path from config)")
	return cmd
}
