package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/raillock/raillock/internal/policy"
	"github.com/spf13/cobra"
)

// errValidationFailed makes the command exit non-zero after the report is
// printed.
var errValidationFailed = errors.New("policy validation failed")

func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [policy-file]",
		Short: "Check a policy file for structural errors and warnings",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().Bool("strict", false, "Also check the file against the policy JSON Schema")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	policyStore := newPolicyStore(cfg)
	data, err := policyStore.Read(name)
	if err != nil {
		return err
	}
	path, _ := policyStore.Resolve(name)

	src, err := policy.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	report := src.Validate(policy.ValidateOptions{Strict: flagBool(cmd, "strict")})

	if flagBool(cmd, "json") {
		encoded, err := json.MarshalIndent(struct {
			Path    string         `json:"path"`
			Outcome policy.Outcome `json:"outcome"`
			policy.Report
		}{Path: path, Outcome: report.Outcome(), Report: report}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
	} else {
		printReport(path, report)
	}

	if !report.OK() {
		return fmt.Errorf("%w: %d errors in %s", errValidationFailed, len(report.Errors), path)
	}
	return nil
}

func printReport(path string, report policy.Report) {
	switch report.Outcome() {
	case policy.OutcomeClean:
		fmt.Printf("%s %s is valid.\n", color.GreenString("✔"), path)
	case policy.OutcomeWarned:
		fmt.Printf("%s %s is valid with %d warnings.\n", color.YellowString("!"), path, len(report.Warnings))
	default:
		fmt.Printf("%s %s is invalid.\n", color.RedString("✘"), path)
	}
	for _, msg := range report.Errors {
		fmt.Printf("  %s %s\n", color.RedString("error:"), msg)
	}
	for _, msg := range report.Warnings {
		fmt.Printf("  %s %s\n", color.YellowString("warning:"), msg)
	}
}
