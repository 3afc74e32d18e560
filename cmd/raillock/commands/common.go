package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/raillock/raillock/internal/audit"
	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/mcp"
	"github.com/raillock/raillock/internal/store"
	"github.com/spf13/cobra"
)

// inventoryLoader is the part of mcp.Loader the commands need.
type inventoryLoader interface {
	Load(ctx context.Context, target mcp.Target) (inventory.Snapshot, error)
	Probe(ctx context.Context, target mcp.Target) error
}

var newInventoryLoader = func(cfg *config.Config) inventoryLoader {
	return mcp.NewLoader(mcp.DefaultConnectors(cfg.Server.Env), mcp.LoaderOptions{
		Timeout: cfg.Server.Timeout,
	})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// addServerFlags registers the flags that pick the MCP server.
func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("server", "s", "", `MCP server: "stdio:<command> [args]" or an http(s) URL (default server.target)`)
	cmd.Flags().Bool("sse", false, "Read URL targets over the MCP SSE transport (default server.transport)")
	cmd.Flags().Duration("timeout", 0, "Inventory load timeout (default server.timeout)")
}

// resolveServer applies server flags over cfg and parses the target.
func resolveServer(cmd *cobra.Command, cfg *config.Config) (mcp.Target, error) {
	raw := cfg.Server.Target
	useSSE := cfg.Server.UseSSE()
	if cmd != nil {
		if v, _ := cmd.Flags().GetString("server"); strings.TrimSpace(v) != "" {
			raw = v
		}
		if cmd.Flags().Changed("sse") {
			useSSE, _ = cmd.Flags().GetBool("sse")
		}
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			cfg.Server.Timeout = timeout
		}
	}
	if strings.TrimSpace(raw) == "" {
		return mcp.Target{}, fmt.Errorf("no MCP server given: pass --server or set server.target")
	}
	target, err := mcp.ParseTarget(raw, useSSE)
	if err != nil {
		return mcp.Target{}, err
	}
	return target.WithHeaders(cfg.Server.Headers), nil
}

func newPolicyStore(cfg *config.Config) *store.Store {
	return store.New(store.Options{
		Dir:         cfg.Output.Dir,
		DefaultName: cfg.Output.Filename,
	})
}

func newAuditRecorder(cfg *config.Config) audit.Recorder {
	if !cfg.Audit.Enabled || strings.TrimSpace(cfg.Audit.Path) == "" {
		return audit.Nop{}
	}
	return audit.NewWriter(cfg.Audit.Path)
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func flagString(cmd *cobra.Command, name string) string {
	if cmd == nil {
		return ""
	}
	v, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(v)
}

func flagBool(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}
	v, _ := cmd.Flags().GetBool(name)
	return v
}
