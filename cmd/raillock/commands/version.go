package commands

import (
	"fmt"

	"github.com/raillock/raillock/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of Raillock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("raillock %s\n", version.Get())
		},
	}
}
