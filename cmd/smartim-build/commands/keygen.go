package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litescript/smartim-build/internal/sign"
)

// NewKeygenCmd returns the keygen command.
func NewKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <dir>",
		Short: "Generate an ed25519 signing key pair",
		Long:  "Writes " + sign.PrivateKeyFile + " and " + sign.PublicKeyFile + " into dir. Existing keys are never overwritten.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cc *cobra.Command, args []string) error {
			priv, pub, err := sign.GenerateKey(args[0])
			if err != nil {
				return err
			}

			out := cc.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", priv)
			fmt.Fprintf(out, "Public key:  %s\n", pub)
			fmt.Fprintf(out, "\nAdd to smartim-build.toml:\n\n[signing]\nprivate_key = %q\npublic_key = %q\n", priv, pub)
			return nil
		},
	}
}
