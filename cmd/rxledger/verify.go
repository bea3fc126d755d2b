package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/pkg/client"
)

var errNotValid = errors.New("prescription failed verification")

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [token-or-qr-payload]",
		Short: "Verify a scanned QR payload or token against a server",
		Long: `Sends the token to the public verification endpoint, without credentials,
and prints the result. Reads the token from stdin when no argument is given.
Exits non-zero unless the prescription is valid.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			var scanned string
			if len(args) == 1 {
				scanned = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				scanned = strings.TrimSpace(string(data))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := client.New(server).Verify(ctx, scanned)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Valid {
				return errNotValid
			}
			if requireAnchor, _ := cmd.Flags().GetBool("require-anchor"); requireAnchor && !res.Anchored {
				return fmt.Errorf("prescription is valid but not anchored")
			}
			return nil
		},
	}
	cmd.Flags().StringP("server", "s", "http://localhost:8080", "API base URL")
	cmd.Flags().Duration("timeout", 15*time.Second, "request timeout")
	cmd.Flags().Bool("require-anchor", false, "also fail when the prescription is not anchored")
	return cmd
}
