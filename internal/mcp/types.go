package mcp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/raillock/raillock/internal/inventory"
)

// StdioPrefix marks a target that is launched as a subprocess.
const StdioPrefix = "stdio:"

// ToolDefinition describes a tool discovered from an MCP server.
type ToolDefinition struct {
	Name        string
	Description string
}

// Client lists the tools of one connected server.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	// ServerName is the name the server reported during the handshake, if any.
	ServerName() string
	Close() error
}

// Connector dials a target and returns a client implementation.
type Connector interface {
	Connect(ctx context.Context, target Target) (Client, error)
}

// Connectors groups supported transport connectors.
type Connectors struct {
	Stdio Connector
	SSE   Connector
	HTTP  Connector
}

// Target is a parsed server address.
type Target struct {
	// Raw is the address as given by the user.
	Raw       string
	Transport string
	Command   string
	Args      []string
	URL       string
	Headers   map[string]string
}

// ParseTarget interprets raw as either "stdio:<command> [args...]" or an
// http(s) URL. URLs use the MCP SSE transport when sse is set and the plain
// JSON listing otherwise.
func ParseTarget(raw string, sse bool) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, fmt.Errorf("server target is required")
	}

	if rest, ok := strings.CutPrefix(trimmed, StdioPrefix); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Target{}, fmt.Errorf("stdio target %q has no command", trimmed)
		}
		return Target{
			Raw:       trimmed,
			Transport: inventory.ServerTypeStdio,
			Command:   fields[0],
			Args:      fields[1:],
		}, nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Target{}, fmt.Errorf("invalid server url %q: %w", trimmed, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Target{}, fmt.Errorf("invalid server url scheme %q: use stdio: for subprocess, or http(s):// for network servers", parsed.Scheme)
	}
	if parsed.Host == "" {
		return Target{}, fmt.Errorf("invalid server url %q: missing host", trimmed)
	}

	transport := inventory.ServerTypeHTTP
	if sse {
		transport = inventory.ServerTypeSSE
	}
	return Target{
		Raw:       trimmed,
		Transport: transport,
		URL:       parsed.String(),
	}, nil
}

// WithHeaders returns a copy of t that sends headers on every HTTP request.
func (t Target) WithHeaders(headers map[string]string) Target {
	t.Headers = cloneHeaders(headers)
	return t
}
