package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"beatrice/internal/crypto"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate an identity keypair and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase()
			if err != nil {
				return err
			}
			if pass == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			if _, ok, err := identities.LoadIdentity(pass); err == nil && ok {
				return fmt.Errorf("an identity already exists in %s", home)
			}

			id, err := crypto.NewIdentity()
			if err != nil {
				return err
			}
			if err := identities.SaveIdentity(pass, id); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", crypto.Fingerprint(id.PublicPEM))
			return nil
		},
	}
}
