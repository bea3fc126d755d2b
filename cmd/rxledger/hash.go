package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/signing"
)

// hashCmd recomputes the canonical digest of a prescription document, so a
// pharmacy can check hash_sha256 independently of the server.
func hashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the canonical SHA-256 digest of a prescription JSON document",
		Long: `Reads a prescription as returned by GET /api/prescriptions/:id (from a file
or stdin) and prints the canonical digest. With --check, exits non-zero when the
document's hash_sha256 does not match.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			var rx model.Prescription
			if err := json.Unmarshal(data, &rx); err != nil {
				return fmt.Errorf("invalid prescription document: %w", err)
			}

			content := signing.ContentOf(&rx)
			if canonical, _ := cmd.Flags().GetBool("canonical"); canonical {
				fmt.Fprintln(cmd.OutOrStdout(), string(signing.Canonical(content)))
			}
			digest, _ := signing.Digest(content)
			fmt.Fprintln(cmd.OutOrStdout(), digest)

			if check, _ := cmd.Flags().GetBool("check"); check {
				if rx.HashSHA256 == nil {
					return fmt.Errorf("document has no hash_sha256")
				}
				if *rx.HashSHA256 != digest {
					return fmt.Errorf("hash mismatch: document says %s", *rx.HashSHA256)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("canonical", false, "also print the canonical JSON that is hashed")
	cmd.Flags().Bool("check", false, "compare against the document's hash_sha256")
	return cmd
}
