package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"beatrice/internal/client"
	"beatrice/internal/crypto"
	"beatrice/internal/domain"
	"beatrice/internal/log"
)

// chat connects to the server and bridges the protocol driver's event
// channel to a plain line-oriented terminal. "@nickname text" sends a
// direct message, "/who" lists known peers, "/quit" leaves.
func chatCmd() *cobra.Command {
	var (
		nickname  string
		ephemeral bool
		logLevel  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to a server and chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := log.New("", logLevel, false)
			if err != nil {
				return err
			}

			id, err := loadOrGenerateIdentity(ephemeral)
			if err != nil {
				return err
			}

			c, err := client.Dial(cmd.Context(), serverAddr, nickname, id, backend)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("Connected as %s (fingerprint %s). /who lists peers, /quit leaves.\n",
				c.Nickname(), c.Fingerprint())

			go renderEvents(c)

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case <-c.Done():
					fmt.Println("Disconnected.")
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					switch {
					case line == "/quit":
						return nil
					case line == "/who":
						printPeers(c)
					default:
						if err := c.Send(line); err != nil {
							return err
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "nickname to request (3-20 alphanumeric)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "use a one-off identity instead of the stored one")
	cmd.Flags().StringVar(&logLevel, "log-level", "ERROR", "client log level")
	_ = cmd.MarkFlagRequired("nickname")
	return cmd
}

func loadOrGenerateIdentity(ephemeral bool) (domain.Identity, error) {
	if ephemeral {
		return crypto.NewIdentity()
	}
	pass, err := readPassphrase()
	if err != nil {
		return domain.Identity{}, err
	}
	id, ok, err := identities.LoadIdentity(pass)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, fmt.Errorf("no identity found, run 'beatrice init' first (or pass --ephemeral)")
	}
	return id, nil
}

// renderEvents consumes the driver's ordered event stream and prints it.
// This is the whole "UI": the protocol core only ever sees the channel.
func renderEvents(c *client.Client) {
	for {
		select {
		case <-c.Done():
			return
		case ev := <-c.Events():
			switch ev.Kind {
			case domain.EventMessage:
				fmt.Printf("%s: %s\n", ev.Message.Sender, ev.Message.Content)
			case domain.EventMyMessage:
				fmt.Printf("me: %s\n", ev.Message.Content)
			case domain.EventJoin:
				fmt.Printf("*** %s joined\n", ev.Text)
			case domain.EventLeave:
				fmt.Printf("*** %s left\n", ev.Text)
			case domain.EventError, domain.EventSelfMessage, domain.EventUserNotFound:
				fmt.Printf("!!! %s\n", ev.Text)
			}
		}
	}
}

func printPeers(c *client.Client) {
	peers := c.Ring().Nicknames()
	if len(peers) == 0 {
		fmt.Println("No one else is here.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Online (%d):\n", len(peers))
	for _, n := range peers {
		fp, _ := c.Ring().FingerprintOf(n)
		fmt.Fprintf(&b, "  %-20s %s\n", n, fp)
	}
	fmt.Print(b.String())
}
