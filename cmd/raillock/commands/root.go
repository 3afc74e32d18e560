package commands

import (
	"github.com/raillock/raillock/internal/config"
	"github.com/spf13/cobra"
)

var (
	configFile       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raillock",
		Short: "Raillock - trust policies for MCP tools",
		Long: `Raillock reviews the tools an MCP server advertises, records allow/deny
decisions in a versioned policy file and detects drift between that policy and
the live server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, isTUICommand(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./raillock.yaml or ~/.raillock/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewReviewCmd(),
		NewCompareCmd(),
		NewValidateCmd(),
		NewToolsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return cmd
}

func isTUICommand(cmd *cobra.Command) bool {
	if cmd.Name() != "review" {
		return false
	}
	yes, _ := cmd.Flags().GetBool("yes")
	return !yes
}
