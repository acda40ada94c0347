package main

import (
	"os"

	"beatrice/cmd/beatrice/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
