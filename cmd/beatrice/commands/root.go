package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"beatrice/internal/store"
)

var (
	home       string
	passphrase string
	serverAddr string

	identities *store.FileStore
)

func Execute() error {
	root := &cobra.Command{
		Use:   "beatrice",
		Short: "End-to-end encrypted chat client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".beatrice")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			identities = store.NewFileStore(home)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.beatrice)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity key")
	root.PersistentFlags().StringVar(&serverAddr, "server", "127.0.0.1:55556", "server address host:port")

	root.AddCommand(initCmd(), fingerprintCmd(), chatCmd())
	return root.Execute()
}

// readPassphrase returns the -p flag value, or prompts without echo.
func readPassphrase() (string, error) {
	if passphrase != "" {
		return passphrase, nil
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
