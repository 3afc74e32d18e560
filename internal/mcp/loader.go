package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/raillock/raillock/internal/inventory"
)

// DefaultTimeout bounds one inventory load when the caller sets none.
const DefaultTimeout = 30 * time.Second

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
	// HTTPClient is used for reachability probes.
	HTTPClient *http.Client
}

// Loader turns a server target into an inventory snapshot with checksums.
type Loader struct {
	connectors Connectors
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
	lookPath   func(string) (string, error)
}

// DefaultConnectors returns production connectors. env is merged into the
// environment of stdio servers.
func DefaultConnectors(env map[string]string) Connectors {
	client := &http.Client{}
	return Connectors{
		Stdio: newStdioConnector(env),
		SSE:   newHTTPSSEConnector(client),
		HTTP:  newHTTPListConnector(client),
	}
}

// NewLoader constructs a loader over the given connectors.
func NewLoader(connectors Connectors, opts LoaderOptions) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Loader{
		connectors: connectors,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		httpClient: opts.HTTPClient,
		lookPath:   exec.LookPath,
	}
}

// Load connects to target, lists its tools and computes their checksums.
// Every failure is reported as an inventory.UnavailableError.
func (l *Loader) Load(ctx context.Context, target Target) (inventory.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	connector := l.connectorFor(target.Transport)
	if connector == nil {
		return inventory.Snapshot{}, inventory.Unavailable(target.Raw, fmt.Errorf("no connector configured for transport %q", target.Transport))
	}

	client, err := connector.Connect(ctx, target)
	if err != nil {
		return inventory.Snapshot{}, inventory.Unavailable(target.Raw, err)
	}
	defer client.Close()

	defs, err := client.ListTools(ctx)
	if err != nil {
		return inventory.Snapshot{}, inventory.Unavailable(target.Raw, fmt.Errorf("list tools failed: %w", err))
	}

	serverName := target.Raw
	if target.Transport == inventory.ServerTypeSSE {
		if reported := client.ServerName(); reported != "" {
			serverName = reported
		}
	}

	tools := make([]inventory.Tool, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if _, dup := seen[def.Name]; dup {
			l.logger.Warn("duplicate tool name from server", "server", serverName, "tool", def.Name)
			continue
		}
		seen[def.Name] = struct{}{}
		tools = append(tools, inventory.Tool{
			Name:        def.Name,
			Description: def.Description,
			Checksum:    inventory.Checksum(serverName, def.Name, def.Description),
		})
	}

	l.logger.Info("loaded tool inventory", "server", serverName, "transport", target.Transport, "tools", len(tools))
	return inventory.Snapshot{
		ServerName: serverName,
		ServerType: target.Transport,
		Tools:      tools,
	}, nil
}

// Probe checks that target is reachable before a review starts. Stdio
// targets only need an executable on PATH; URLs must answer HEAD, or GET
// when HEAD is refused, with a status below 400.
func (l *Loader) Probe(ctx context.Context, target Target) error {
	if target.Transport == inventory.ServerTypeStdio {
		if _, err := l.lookPath(target.Command); err != nil {
			return inventory.Unavailable(target.Raw, fmt.Errorf("stdio server executable not found: %s", target.Command))
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	status, err := l.probeStatus(ctx, http.MethodHead, target)
	if err != nil || status == http.StatusMethodNotAllowed {
		status, err = l.probeStatus(ctx, http.MethodGet, target)
	}
	if err != nil {
		return inventory.Unavailable(target.Raw, fmt.Errorf("failed to reach server: %w", err))
	}
	if status >= 400 {
		return inventory.Unavailable(target.Raw, fmt.Errorf("server responded with error code: %d", status))
	}
	return nil
}

func (l *Loader) probeStatus(ctx context.Context, method string, target Target) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.URL, nil)
	if err != nil {
		return 0, err
	}
	applyHeaders(req.Header, target.Headers)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	// SSE endpoints never finish the body; only the status matters.
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (l *Loader) connectorFor(transport string) Connector {
	switch transport {
	case inventory.ServerTypeStdio:
		return l.connectors.Stdio
	case inventory.ServerTypeSSE:
		return l.connectors.SSE
	case inventory.ServerTypeHTTP:
		return l.connectors.HTTP
	default:
		return nil
	}
}
