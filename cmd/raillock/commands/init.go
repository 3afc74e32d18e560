package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/policy"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [policy-file]",
		Short: "Write a policy template to edit by hand",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	policyStore := newPolicyStore(cfg)
	path, err := policyStore.Resolve(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Policy already exists: %s\n", path)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if _, err := policyStore.Write(name, []byte(policy.Template)); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}

	fmt.Printf("Policy template written: %s\n", path)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Replace YOUR_SERVER_NAME and list your tools\n")
	fmt.Printf("2. Run 'raillock validate %s' to check it\n", path)
	fmt.Printf("3. Or run 'raillock review --server <target>' to build one interactively\n")
	return nil
}
