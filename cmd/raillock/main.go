package main

import (
	"os"

	"github.com/raillock/raillock/cmd/raillock/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
