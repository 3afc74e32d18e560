package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/spf13/cobra"
)

func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools a server advertises",
		RunE:  runTools,
	}
	addServerFlags(cmd)
	cmd.Flags().String("search", "", `Filter by name, "title:<text>" or "desc:<text>"`)
	cmd.Flags().String("sort", string(inventory.SortByName), "Sort by name or description-length")
	cmd.Flags().Bool("json", false, "Print the inventory as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := resolveServer(cmd, cfg)
	if err != nil {
		return err
	}
	snap, err := newInventoryLoader(cfg).Load(ctx, target)
	if err != nil {
		return err
	}

	search := flagString(cmd, "search")
	tools := inventory.Filter(snap.Tools, search, inventory.ParseSortKey(flagString(cmd, "sort")))
	if flagBool(cmd, "json") {
		snap.Tools = tools
		encoded, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	if len(tools) == 0 {
		if inventory.ParseQuery(search).Active() {
			fmt.Println("No tools match.")
		} else {
			fmt.Printf("Server %s advertises no tools.\n", snap.ServerName)
		}
		return nil
	}

	var (
		headerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#8E4EC6")).
				Padding(0, 1).
				MarginBottom(1)

		wName = 28
		wSum  = 12
		wDesc = 60

		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#8E4EC6")).
				Bold(true).
				MarginRight(1)

		nameStyle = lipgloss.NewStyle().Width(wName).MarginRight(1)
		sumStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(wSum).MarginRight(1)
		descStyle = lipgloss.NewStyle().Width(wDesc).MarginRight(1)
	)

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%d of %d tools)", snap.ServerName, len(tools), len(snap.Tools))))

	fmt.Printf("  %s\n", lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wName).Render("NAME"),
		colHeaderStyle.Width(wSum).Render("CHECKSUM"),
		colHeaderStyle.Width(wDesc).Render("DESCRIPTION"),
	))
	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	fmt.Printf("  %s\n", lipgloss.JoinHorizontal(lipgloss.Top,
		sepStyle.Render(strings.Repeat("─", wName)),
		sepStyle.Render(strings.Repeat("─", wSum)),
		sepStyle.Render(strings.Repeat("─", wDesc)),
	))

	for _, tool := range tools {
		fmt.Printf("  %s\n", lipgloss.JoinHorizontal(lipgloss.Top,
			nameStyle.Render(inventory.Truncate(tool.Name, wName)),
			sumStyle.Render(inventory.Truncate(tool.Checksum, wSum)),
			descStyle.Render(inventory.Truncate(inventory.FirstLine(tool.Description), wDesc)),
		))
	}
	fmt.Println()
	return nil
}
