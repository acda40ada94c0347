package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"beatrice/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Show the fingerprint of your public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase()
			if err != nil {
				return err
			}
			id, ok, err := identities.LoadIdentity(pass)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no identity found, run 'beatrice init' first")
			}
			fmt.Println(crypto.Fingerprint(id.PublicPEM))
			return nil
		},
	}
}
