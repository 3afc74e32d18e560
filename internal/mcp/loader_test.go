package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/raillock/raillock/internal/inventory"
)

type fakeClient struct {
	name    string
	tools   []ToolDefinition
	listErr error
	closed  bool
}

func (c *fakeClient) ListTools(context.Context) ([]ToolDefinition, error) {
	return c.tools, c.listErr
}

func (c *fakeClient) ServerName() string { return c.name }

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	client *fakeClient
	err    error
	got    Target
}

func (c *fakeConnector) Connect(_ context.Context, target Target) (Client, error) {
	c.got = target
	if c.err != nil {
		return nil, c.err
	}
	return c.client, nil
}

func quietLoader(connectors Connectors) *Loader {
	return NewLoader(connectors, LoaderOptions{
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestLoader_SSEUsesReportedServerName(t *testing.T) {
	client := &fakeClient{
		name: "weather",
		tools: []ToolDefinition{
			{Name: "forecast", Description: "Get a forecast"},
			{Name: "forecast", Description: "Duplicate"},
			{Name: "alerts", Description: "Active alerts"},
		},
	}
	loader := quietLoader(Connectors{SSE: &fakeConnector{client: client}})

	target, err := ParseTarget("http://localhost:8000/sse", true)
	if err != nil {
		t.Fatalf("ParseTarget error: %v", err)
	}
	snapshot, err := loader.Load(context.Background(), target)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if snapshot.ServerName != "weather" || snapshot.ServerType != inventory.ServerTypeSSE {
		t.Fatalf("unexpected snapshot identity: %q %q", snapshot.ServerName, snapshot.ServerType)
	}
	if len(snapshot.Tools) != 2 {
		t.Fatalf("expected duplicate dropped, got %+v", snapshot.Tools)
	}
	first := snapshot.Tools[0]
	if first.Description != "Get a forecast" {
		t.Fatalf("expected first definition to win, got %q", first.Description)
	}
	if want := inventory.Checksum("weather", "forecast", "Get a forecast"); first.Checksum != want {
		t.Fatalf("expected checksum %s, got %s", want, first.Checksum)
	}
	if !client.closed {
		t.Fatalf("expected client to be closed after load")
	}
}

func TestLoader_SSEFallsBackToURL(t *testing.T) {
	client := &fakeClient{tools: []ToolDefinition{{Name: "echo", Description: "Echo"}}}
	loader := quietLoader(Connectors{SSE: &fakeConnector{client: client}})

	target, _ := ParseTarget("http://localhost:8000/sse", true)
	snapshot, err := loader.Load(context.Background(), target)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if snapshot.ServerName != "http://localhost:8000/sse" {
		t.Fatalf("expected url as server name, got %q", snapshot.ServerName)
	}
}

func TestLoader_HTTPIgnoresReportedName(t *testing.T) {
	client := &fakeClient{name: "ignored", tools: []ToolDefinition{{Name: "echo", Description: "Echo"}}}
	loader := quietLoader(Connectors{HTTP: &fakeConnector{client: client}})

	target, _ := ParseTarget("http://localhost:8000/tools", false)
	snapshot, err := loader.Load(context.Background(), target)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if snapshot.ServerName != target.Raw || snapshot.ServerType != inventory.ServerTypeHTTP {
		t.Fatalf("unexpected snapshot identity: %q %q", snapshot.ServerName, snapshot.ServerType)
	}
	if want := inventory.Checksum(target.Raw, "echo", "Echo"); snapshot.Tools[0].Checksum != want {
		t.Fatalf("expected checksum over target, got %s", snapshot.Tools[0].Checksum)
	}
}

func TestLoader_ConnectFailureIsUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	loader := quietLoader(Connectors{HTTP: &fakeConnector{err: cause}})

	target, _ := ParseTarget("http://localhost:1/tools", false)
	_, err := loader.Load(context.Background(), target)
	if !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestLoader_ListFailureIsUnavailable(t *testing.T) {
	client := &fakeClient{listErr: errors.New("boom")}
	loader := quietLoader(Connectors{HTTP: &fakeConnector{client: client}})

	target, _ := ParseTarget("http://localhost:1/tools", false)
	_, err := loader.Load(context.Background(), target)
	var unavailable *inventory.UnavailableError
	if !errors.As(err, &unavailable) || !strings.Contains(err.Error(), "list tools failed") {
		t.Fatalf("expected UnavailableError from list failure, got %v", err)
	}
	if !client.closed {
		t.Fatalf("expected client closed after list failure")
	}
}

func TestLoader_MissingConnector(t *testing.T) {
	loader := quietLoader(Connectors{})
	target, _ := ParseTarget("stdio:python server.py", false)
	if _, err := loader.Load(context.Background(), target); !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoader_StdioHelperProcess(t *testing.T) {
	loader := quietLoader(Connectors{Stdio: helperConnector()})

	snapshot, err := loader.Load(context.Background(), helperTarget())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if snapshot.ServerName != "stdio:helper" || snapshot.ServerType != inventory.ServerTypeStdio {
		t.Fatalf("unexpected snapshot identity: %q %q", snapshot.ServerName, snapshot.ServerType)
	}
	if got := snapshot.Names(); len(got) != 2 || got[0] != "echo" || got[1] != "read_file" {
		t.Fatalf("unexpected tools: %v", got)
	}
}

func TestLoader_ProbeFallsBackToGet(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	loader := quietLoader(Connectors{})
	target, _ := ParseTarget(server.URL, true)
	if err := loader.Probe(context.Background(), target); err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodHead || methods[1] != http.MethodGet {
		t.Fatalf("expected HEAD then GET, got %v", methods)
	}
}

func TestLoader_ProbeErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loader := quietLoader(Connectors{})
	target, _ := ParseTarget(server.URL, false)
	err := loader.Probe(context.Background(), target)
	if !errors.Is(err, inventory.ErrUnavailable) || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 unavailable error, got %v", err)
	}
}

func TestLoader_ProbeStdioLooksUpExecutable(t *testing.T) {
	loader := quietLoader(Connectors{})
	loader.lookPath = func(name string) (string, error) {
		if name == "present" {
			return "/usr/bin/present", nil
		}
		return "", errors.New("not found")
	}

	ok, _ := ParseTarget("stdio:present --flag", false)
	if err := loader.Probe(context.Background(), ok); err != nil {
		t.Fatalf("expected probe success, got %v", err)
	}
	missing, _ := ParseTarget("stdio:absent", false)
	err := loader.Probe(context.Background(), missing)
	if err == nil || !strings.Contains(err.Error(), "executable not found: absent") {
		t.Fatalf("expected missing executable error, got %v", err)
	}
}

func TestParseTarget(t *testing.T) {
	stdio, err := ParseTarget("  stdio:python echo_server.py --port 1 ", false)
	if err != nil {
		t.Fatalf("ParseTarget stdio error: %v", err)
	}
	if stdio.Transport != inventory.ServerTypeStdio || stdio.Command != "python" || len(stdio.Args) != 3 {
		t.Fatalf("unexpected stdio target: %+v", stdio)
	}
	if stdio.Raw != "stdio:python echo_server.py --port 1" {
		t.Fatalf("expected trimmed raw target, got %q", stdio.Raw)
	}

	sse, err := ParseTarget("https://example.com/sse", true)
	if err != nil || sse.Transport != inventory.ServerTypeSSE {
		t.Fatalf("unexpected sse target: %+v %v", sse, err)
	}

	for _, bad := range []string{"", "stdio:", "ftp://example.com", "localhost:8000", "http://"} {
		if _, err := ParseTarget(bad, false); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
