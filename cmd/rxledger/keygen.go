package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/rx-ledger/internal/signing"
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a doctor signing key pair",
		Example: `  rxledger keygen
  rxledger keygen --alg ecdsa --out doc-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, _ := cmd.Flags().GetString("alg")
			out, _ := cmd.Flags().GetString("out")

			var (
				kp  *signing.KeyPair
				err error
			)
			switch strings.ToLower(alg) {
			case "ed25519":
				kp, err = signing.GenerateKeyPair()
			case "ecdsa", "p256", "ecdsa-p256":
				kp, err = signing.GenerateECDSAKeyPair()
			default:
				return fmt.Errorf("unsupported algorithm %q, use ed25519 or ecdsa", alg)
			}
			if err != nil {
				return err
			}

			if out == "" {
				fmt.Fprint(cmd.OutOrStdout(), kp.PrivateKeyPEM)
				fmt.Fprint(cmd.OutOrStdout(), kp.PublicKeyPEM)
				return nil
			}

			if err := os.WriteFile(out+".key", []byte(kp.PrivateKeyPEM), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(out+".pub", []byte(kp.PublicKeyPEM), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s.key and %s.pub\n", out, out)
			return nil
		},
	}
	cmd.Flags().String("alg", "ed25519", "key algorithm: ed25519|ecdsa")
	cmd.Flags().StringP("out", "o", "", "write <out>.key and <out>.pub instead of printing")
	return cmd
}
