package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/mcp"
	"github.com/raillock/raillock/internal/policy"
	"github.com/spf13/cobra"
)

const watchDebounce = 200 * time.Millisecond

func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [policy-file]",
		Short: "Compare a policy file against the live server",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompare,
	}
	addServerFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the comparison as JSON")
	cmd.Flags().Bool("watch", false, "Compare again whenever the policy file changes")
	return cmd
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := resolveServer(cmd, cfg)
	if err != nil {
		return err
	}
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	path, err := newPolicyStore(cfg).Resolve(name)
	if err != nil {
		return err
	}

	loader := newInventoryLoader(cfg)
	jsonOut := flagBool(cmd, "json")
	if !flagBool(cmd, "watch") {
		return compareOnce(ctx, loader, target, path, jsonOut)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rerun := func() {
		if err := compareOnce(ctx, loader, target, path, jsonOut); err != nil {
			fmt.Println(color.RedString("Error: %v", err))
		}
	}
	rerun()
	fmt.Printf("Watching %s for changes. Press Ctrl+C to stop.\n", path)
	return watchPolicy(ctx, path, rerun)
}

func compareOnce(ctx context.Context, loader inventoryLoader, target mcp.Target, path string, jsonOut bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	src, err := policy.Parse(data)
	if err != nil {
		return err
	}
	snap, err := loader.Load(ctx, target)
	if err != nil {
		return err
	}

	result := policy.Compare(src.Document(), snap.Tools)
	if jsonOut {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}
	printComparison(path, snap.ServerName, result)
	return nil
}

func printComparison(path, server string, result policy.Comparison) {
	var (
		headerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#8E4EC6")).
				Padding(0, 1).
				MarginBottom(1)

		wTool  = 24
		wFlag  = 9
		wType  = 10
		wDesc  = 50
		colHdr = lipgloss.NewStyle().Foreground(lipgloss.Color("#8E4EC6")).Bold(true).MarginRight(1)
		cell   = lipgloss.NewStyle().MarginRight(1)
	)

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s vs %s", filepath.Base(path), server)))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHdr.Width(wTool).Render("TOOL"),
		colHdr.Width(wFlag).Render("ON SERVER"),
		colHdr.Width(wFlag).Render("ALLOWED"),
		colHdr.Width(wFlag).Render("CHECKSUM"),
		colHdr.Width(wType).Render("TYPE"),
		colHdr.Width(wDesc).Render("DESCRIPTION"),
	)
	fmt.Printf("  %s\n", headers)

	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	fmt.Printf("  %s\n", lipgloss.JoinHorizontal(lipgloss.Top,
		sep.Render(strings.Repeat("─", wTool)),
		sep.Render(strings.Repeat("─", wFlag)),
		sep.Render(strings.Repeat("─", wFlag)),
		sep.Render(strings.Repeat("─", wFlag)),
		sep.Render(strings.Repeat("─", wType)),
		sep.Render(strings.Repeat("─", wDesc)),
	))

	for _, row := range result.Rows {
		toolName := row.Tool
		if row.Conflict {
			toolName += " *"
		}
		fmt.Printf("  %s\n", lipgloss.JoinHorizontal(lipgloss.Top,
			cell.Width(wTool).Render(inventory.Truncate(toolName, wTool)),
			cell.Width(wFlag).Render(mark(row.OnServer)),
			cell.Width(wFlag).Render(mark(row.Allowed)),
			cell.Width(wFlag).Render(mark(row.ChecksumMatch)),
			cell.Width(wType).Render(classColor(row.Type)),
			cell.Width(wDesc).Render(inventory.Truncate(inventory.FirstLine(row.Description), wDesc)),
		))
	}

	s := result.Summary
	fmt.Println()
	fmt.Printf("Server tools: %d  allowed: %d  malicious: %d  denied: %d  checksum mismatches: %d\n",
		s.ServerTools, s.AllowedTools, s.MaliciousTools, s.DeniedTools, s.ChecksumMismatches)
	if s.ChecksumMismatches > 0 {
		fmt.Println(color.YellowString("%d live tools changed or are not covered by the policy.", s.ChecksumMismatches))
	}
	for _, row := range result.Rows {
		if row.Conflict {
			fmt.Println(color.YellowString("* listed in more than one section; the first of allowed, malicious, denied wins."))
			break
		}
	}
}

// watchPolicy calls onChange after path is written, replaced or recreated,
// coalescing bursts of events. It returns when ctx is done.
func watchPolicy(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors and the store replace the file, so the directory is watched.
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("policy file changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("policy watcher error", "error", err)
		}
	}
}

func mark(ok bool) string {
	if ok {
		return color.GreenString("✔")
	}
	return color.RedString("✘")
}

func classColor(class policy.Classification) string {
	switch class {
	case policy.ClassAllowed:
		return color.GreenString("%s", class)
	case policy.ClassMalicious:
		return color.New(color.FgRed, color.Bold).Sprint(class)
	case policy.ClassDenied:
		return color.RedString("%s", class)
	default:
		return color.YellowString("%s", class)
	}
}
