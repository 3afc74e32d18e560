package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/raillock/raillock/internal/audit"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/policy"
	"github.com/raillock/raillock/internal/review"
	"github.com/raillock/raillock/internal/tui"
	"github.com/spf13/cobra"
)

var runReviewTUI = func(snap inventory.Snapshot) (*review.State, error) {
	return tui.Run(snap, nil)
}

func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review a server's tools and save a trust policy",
		RunE:  runReview,
	}
	addServerFlags(cmd)
	cmd.Flags().BoolP("yes", "y", false, "Allow every tool without the interactive review")
	cmd.Flags().StringP("output", "o", "", "Policy file to write (default output.filename)")
	cmd.Flags().Bool("diff", false, "Show a unified diff against the existing policy file before saving")
	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := resolveServer(cmd, cfg)
	if err != nil {
		return err
	}

	loader := newInventoryLoader(cfg)
	if err := loader.Probe(ctx, target); err != nil {
		return err
	}
	snap, err := loader.Load(ctx, target)
	if err != nil {
		return err
	}
	if len(snap.Tools) == 0 {
		fmt.Printf("Server %s advertises no tools; nothing to review.\n", snap.ServerName)
		return nil
	}

	var state *review.State
	if flagBool(cmd, "yes") {
		state = review.NewState()
		if _, err := state.AllowUnset(snap.Names(), func(int) bool { return true }); err != nil {
			return err
		}
	} else {
		state, err = runReviewTUI(snap)
		if errors.Is(err, tui.ErrCancelled) {
			fmt.Println("Review cancelled; no policy written.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("review failed: %w", err)
		}
	}

	doc, summary := policy.Build(snap.Tools, state, policy.ServerMeta{
		Name: snap.ServerName,
		Type: snap.ServerType,
	})

	policyStore := newPolicyStore(cfg)
	name := flagString(cmd, "output")
	if flagBool(cmd, "diff") {
		if err := printPolicyDiff(policyStore.NormalizeName(name), policyStore.Read, doc); err != nil {
			return err
		}
	}

	path, err := policyStore.SaveDocument(name, doc)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	if err := newAuditRecorder(cfg).Append(audit.Event{
		Type:   audit.TypePolicySaved,
		Server: doc.Server.Name,
		Path:   path,
		Source: "review",
		Result: string(policy.OutcomeClean),
	}); err != nil {
		slog.Warn("audit append failed", "error", err)
	}

	fmt.Printf("Policy saved to %s\n", path)
	fmt.Printf("  allowed: %d  denied: %d  malicious: %d  ignored: %d\n",
		summary.Allowed, summary.Denied, summary.Malicious, summary.Ignored)
	return nil
}

// printPolicyDiff shows how doc differs from the stored file. A missing
// file diffs against an empty one.
func printPolicyDiff(name string, read func(string) ([]byte, error), doc *policy.Document) error {
	proposed, err := doc.Marshal()
	if err != nil {
		return err
	}
	current, err := read(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(proposed)),
		FromFile: name,
		ToFile:   name + " (proposed)",
		Context:  3,
	})
	if err != nil {
		return fmt.Errorf("diff policy: %w", err)
	}
	if diff == "" {
		fmt.Println("No changes against the existing policy.")
		return nil
	}
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Print(color.New(color.Bold).Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Print(color.GreenString("%s", line))
		case strings.HasPrefix(line, "-"):
			fmt.Print(color.RedString("%s", line))
		case strings.HasPrefix(line, "@@"):
			fmt.Print(color.CyanString("%s", line))
		default:
			fmt.Print(line)
		}
	}
	return nil
}
